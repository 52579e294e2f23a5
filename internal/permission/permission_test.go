package permission

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"

	"github.com/dexft/dexft/internal/config"
)

var allGranted = config.Grants{Notifications: true, Network: true, SharedRead: true}

func TestCheckAllGranted(t *testing.T) {
	c := NewChecker(t.TempDir(), allGranted)
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !c.NotificationsPermitted(context.Background()) {
		t.Fatal("notifications should be permitted")
	}
}

func TestCheckMissingDirectoryIsNotDenied(t *testing.T) {
	c := NewChecker(filepath.Join(t.TempDir(), "missing"), allGranted)
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("missing directory must not deny start, got %v", err)
	}
}

func TestCheckReportsRevokedGrants(t *testing.T) {
	c := NewChecker(t.TempDir(), config.Grants{Network: true})

	err := c.Check(context.Background())
	if !IsDenied(err) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	denied := err.(*DeniedError)
	if !slices.Equal(denied.Missing, []string{Notifications, SharedRead}) {
		t.Fatalf("unexpected missing grants %v", denied.Missing)
	}
	if c.NotificationsPermitted(context.Background()) {
		t.Fatal("notifications should not be permitted")
	}

	c.Update(t.TempDir(), allGranted)
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("expected grants restored after update, got %v", err)
	}
}

func TestCheckUnreadableDirectory(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	dir := filepath.Join(t.TempDir(), "locked")
	if err := os.Mkdir(dir, 0o000); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Cleanup(func() { os.Chmod(dir, 0o755) })

	err := NewChecker(dir, allGranted).Check(context.Background())
	if !IsDenied(err) {
		t.Fatalf("expected DeniedError for unreadable directory, got %v", err)
	}
}
