package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetHome(t *testing.T) {
	userDir, _ := os.UserHomeDir()

	t.Setenv(HomeEnv, "")
	if got, want := GetHome(), filepath.Join(userDir, ".dexft"); got != want {
		t.Errorf("default GetHome() = %s; want %s", got, want)
	}

	override := t.TempDir()
	t.Setenv(HomeEnv, "  "+override+" ")
	if got := GetHome(); got != override {
		t.Errorf("overridden GetHome() = %s; want %s", got, override)
	}
}

func TestGetInstancePathsLayout(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnv, home)
	root := filepath.Join(home, "instances", DefaultInstance)

	p := GetInstancePaths("")
	for name, pair := range map[string][2]string{
		"Home":     {p.Home, root},
		"ConfigDB": {p.ConfigDB, filepath.Join(root, "config.db")},
		"Socket":   {p.Socket, filepath.Join(root, "dexft.sock")},
		"Lock":     {p.Lock, filepath.Join(root, "daemon.lock")},
		"Logs":     {p.Logs, filepath.Join(root, "logs")},
		"Profiles": {p.Profiles, filepath.Join(root, "profiles")},
	} {
		if pair[0] != pair[1] {
			t.Errorf("%s = %s; want %s", name, pair[0], pair[1])
		}
	}
}

func TestEnsureProfileDirsCreatesTree(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	profile, err := EnsureProfileDirs("custom", "")
	if err != nil {
		t.Fatalf("EnsureProfileDirs: %v", err)
	}
	if profile.Name != DefaultProfile {
		t.Errorf("profile name = %q; want %q", profile.Name, DefaultProfile)
	}
	for _, dir := range []string{profile.Instance.Home, profile.Instance.Logs, profile.Home, profile.State} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s missing (err=%v)", dir, err)
		}
	}
}

func TestExpandPath(t *testing.T) {
	userDir, _ := os.UserHomeDir()
	for in, want := range map[string]string{
		"~":         userDir,
		"~/shared":  filepath.Join(userDir, "shared"),
		"/abs/path": "/abs/path",
		"~other":    "~other",
		"":          "",
	} {
		if got := ExpandPath(in); got != want {
			t.Errorf("ExpandPath(%q) = %q; want %q", in, got, want)
		}
	}
}
