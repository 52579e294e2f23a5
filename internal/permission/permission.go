// Package permission checks the runtime grants a background transfer server
// needs before it may start.
package permission

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/dexft/dexft/internal/config"
)

// Grant names reported in DeniedError.Missing.
const (
	Notifications = "notifications"
	Network       = "network"
	SharedRead    = "shared_read"
)

// DeniedError lists the grants that are missing.
type DeniedError struct {
	Missing []string
}

func (e *DeniedError) Error() string {
	return "permission: missing grants: " + strings.Join(e.Missing, ", ")
}

// IsDenied reports whether err is (or wraps) a *DeniedError.
func IsDenied(err error) bool {
	var target *DeniedError
	return errors.As(err, &target)
}

// Checker evaluates the configured grants plus the readability of the
// shared directory. Safe for concurrent use; Update swaps the inputs.
type Checker struct {
	mu        sync.RWMutex
	sharedDir string
	grants    config.Grants
}

// NewChecker returns a checker for the given shared directory and grants.
func NewChecker(sharedDir string, grants config.Grants) *Checker {
	return &Checker{sharedDir: sharedDir, grants: grants}
}

// Update replaces the shared directory and grants.
func (c *Checker) Update(sharedDir string, grants config.Grants) {
	c.mu.Lock()
	c.sharedDir = sharedDir
	c.grants = grants
	c.mu.Unlock()
}

// Check returns a *DeniedError when any grant is missing. A shared
// directory that does not exist is not a permission problem: the media
// scan reports it and the server still starts.
func (c *Checker) Check(ctx context.Context) error {
	c.mu.RLock()
	dir, grants := c.sharedDir, c.grants
	c.mu.RUnlock()

	var missing []string
	if !grants.Notifications {
		missing = append(missing, Notifications)
	}
	if !grants.Network {
		missing = append(missing, Network)
	}
	if !grants.SharedRead || !readable(dir) {
		missing = append(missing, SharedRead)
	}
	if len(missing) > 0 {
		return &DeniedError{Missing: missing}
	}
	return ctx.Err()
}

// NotificationsPermitted reports whether posting notifications is granted.
func (c *Checker) NotificationsPermitted(context.Context) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.grants.Notifications
}

func readable(dir string) bool {
	if dir == "" {
		return true
	}
	f, err := os.Open(dir)
	if err != nil {
		return !errors.Is(err, fs.ErrPermission)
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err != nil && errors.Is(err, fs.ErrPermission) {
		return false
	}
	return true
}
