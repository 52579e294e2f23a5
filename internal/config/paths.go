package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultInstance = "default"
	DefaultProfile  = "default"

	// HomeEnv overrides the dexft home directory (~/.dexft).
	HomeEnv = "DEXFT_HOME"
)

// InstancePaths is the on-disk layout of one daemon instance:
//
//	<home>/instances/<name>/{config.db,dexft.sock,daemon.lock,logs/,profiles/}
type InstancePaths struct {
	Home     string
	ConfigDB string
	Socket   string // control API unix socket
	Lock     string // pid file of the running daemon
	Logs     string
	Profiles string
}

// ProfilePaths locates the state directory of one settings profile.
type ProfilePaths struct {
	Instance InstancePaths
	Name     string
	Home     string
	State    string
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// GetInstancePaths resolves the layout for name, or "default" when empty.
func GetInstancePaths(name string) InstancePaths {
	root := filepath.Join(GetHome(), "instances", orDefault(name, DefaultInstance))
	at := func(elem string) string { return filepath.Join(root, elem) }
	return InstancePaths{
		Home:     root,
		ConfigDB: at("config.db"),
		Socket:   at("dexft.sock"),
		Lock:     at("daemon.lock"),
		Logs:     at("logs"),
		Profiles: at("profiles"),
	}
}

// GetProfilePaths resolves the layout of profile within instance.
func GetProfilePaths(instance, profile string) ProfilePaths {
	inst := GetInstancePaths(instance)
	profile = orDefault(profile, DefaultProfile)
	home := filepath.Join(inst.Profiles, profile)
	return ProfilePaths{Instance: inst, Name: profile, Home: home, State: filepath.Join(home, "state")}
}

// GetHome returns $DEXFT_HOME if set, else ~/.dexft.
func GetHome() string {
	if override := strings.TrimSpace(os.Getenv(HomeEnv)); override != "" {
		return ExpandPath(override)
	}
	return filepath.Join(userHome(), ".dexft")
}

// DefaultSharedDir is served when no shared_dir setting exists.
func DefaultSharedDir() string {
	return filepath.Join(userHome(), "DexFT")
}

// ExpandPath replaces a leading "~" or "~/" with the user's home directory.
func ExpandPath(path string) string {
	switch {
	case path == "~":
		return userHome()
	case strings.HasPrefix(path, "~/"), strings.HasPrefix(path, "~"+string(os.PathSeparator)):
		return filepath.Join(userHome(), path[2:])
	}
	return path
}

func userHome() string {
	home, _ := os.UserHomeDir()
	return home
}

// EnsureInstanceDirs creates the instance directories if missing.
func EnsureInstanceDirs(name string) (InstancePaths, error) {
	paths := GetInstancePaths(name)
	return paths, mkdirAll(paths.Home, paths.Logs, paths.Profiles)
}

// EnsureProfileDirs creates the instance and profile directories if missing.
func EnsureProfileDirs(instance, profile string) (ProfilePaths, error) {
	paths := GetProfilePaths(instance, profile)
	if _, err := EnsureInstanceDirs(instance); err != nil {
		return paths, err
	}
	return paths, mkdirAll(paths.Home, paths.State)
}

func mkdirAll(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
