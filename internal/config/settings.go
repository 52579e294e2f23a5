package config

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Setting keys persisted in the configuration store.
const (
	KeySharedDir             = "transfer.shared_dir"
	KeyListenAddr            = "transfer.listen_addr"
	KeyEngineCommand         = "transfer.engine_command"
	KeyMinRunMillis          = "engine.min_run_ms"
	KeyStopGraceMillis       = "engine.stop_grace_ms"
	KeyStartRatePerSec       = "foreground.start_rate"
	KeyStartBurst            = "foreground.start_burst"
	KeyNotificationChannel   = "notification.channel_id"
	KeyNotificationTitle     = "notification.title"
	KeyNotificationText      = "notification.text"
	KeyPushTokens            = "notification.push_tokens"
	KeyPermissionNotify      = "permission.notifications"
	KeyPermissionNetwork     = "permission.network"
	KeyPermissionSharedRead  = "permission.shared_read"
	KeyControlTCPAddr        = "control.tcp_addr"
	DefaultPort              = 9413
	DefaultNotificationTitle = "Foreground Service"
	DefaultNotificationText  = "Service is running..."
	DefaultChannelID         = "ForegroundServiceChannel"
)

// Settings is the typed view of the daemon configuration.
type Settings struct {
	SharedDir      string
	ListenAddr     string
	EngineCommand  []string // optional external transfer server (argv)
	MinRunDuration time.Duration
	StopGrace      time.Duration
	StartRate      float64 // background starts allowed per second
	StartBurst     int
	ChannelID      string
	Title          string
	Text           string
	PushTokens     []string
	Grants         Grants
	ControlTCPAddr string // optional loopback TCP listener for the control API
}

// Grants records which runtime permissions the user has granted the daemon.
type Grants struct {
	Notifications bool
	Network       bool
	SharedRead    bool
}

// DefaultSettings returns the settings used when the store has no overrides.
func DefaultSettings() Settings {
	return Settings{
		SharedDir:      DefaultSharedDir(),
		ListenAddr:     fmt.Sprintf(":%d", DefaultPort),
		MinRunDuration: 500 * time.Millisecond,
		StopGrace:      3 * time.Second,
		StartRate:      0.5,
		StartBurst:     3,
		ChannelID:      DefaultChannelID,
		Title:          DefaultNotificationTitle,
		Text:           DefaultNotificationText,
		Grants:         Grants{Notifications: true, Network: true, SharedRead: true},
	}
}

// ParseSettings overlays raw key/value pairs on top of DefaultSettings.
// Malformed values are logged and ignored.
func ParseSettings(values map[string]string) Settings {
	s := DefaultSettings()

	if v := strings.TrimSpace(values[KeySharedDir]); v != "" {
		s.SharedDir = ExpandPath(v)
	}
	if v := strings.TrimSpace(values[KeyListenAddr]); v != "" {
		s.ListenAddr = v
	}
	if v := strings.TrimSpace(values[KeyEngineCommand]); v != "" {
		s.EngineCommand = strings.Fields(v)
	}
	if v, ok := parseMillis(values, KeyMinRunMillis); ok {
		s.MinRunDuration = v
	}
	if v, ok := parseMillis(values, KeyStopGraceMillis); ok && v > 0 {
		s.StopGrace = v
	}
	if v := strings.TrimSpace(values[KeyStartRatePerSec]); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			s.StartRate = f
		} else {
			log.Printf("[Config] ignoring invalid %s=%q", KeyStartRatePerSec, v)
		}
	}
	if v := strings.TrimSpace(values[KeyStartBurst]); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.StartBurst = n
		} else {
			log.Printf("[Config] ignoring invalid %s=%q", KeyStartBurst, v)
		}
	}
	if v := strings.TrimSpace(values[KeyNotificationChannel]); v != "" {
		s.ChannelID = v
	}
	if v := strings.TrimSpace(values[KeyNotificationTitle]); v != "" {
		s.Title = v
	}
	if v := strings.TrimSpace(values[KeyNotificationText]); v != "" {
		s.Text = v
	}
	if v := strings.TrimSpace(values[KeyPushTokens]); v != "" {
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				s.PushTokens = append(s.PushTokens, tok)
			}
		}
	}
	s.Grants.Notifications = parseBool(values, KeyPermissionNotify, s.Grants.Notifications)
	s.Grants.Network = parseBool(values, KeyPermissionNetwork, s.Grants.Network)
	s.Grants.SharedRead = parseBool(values, KeyPermissionSharedRead, s.Grants.SharedRead)
	s.ControlTCPAddr = strings.TrimSpace(values[KeyControlTCPAddr])

	return s
}

// KnownKeys lists every setting key understood by ParseSettings, sorted.
func KnownKeys() []string {
	keys := []string{
		KeySharedDir, KeyListenAddr, KeyEngineCommand, KeyMinRunMillis, KeyStopGraceMillis,
		KeyStartRatePerSec, KeyStartBurst, KeyNotificationChannel, KeyNotificationTitle,
		KeyNotificationText, KeyPushTokens, KeyPermissionNotify, KeyPermissionNetwork,
		KeyPermissionSharedRead, KeyControlTCPAddr,
	}
	sort.Strings(keys)
	return keys
}

// IsKnownKey reports whether key is a recognised setting.
func IsKnownKey(key string) bool {
	for _, k := range KnownKeys() {
		if k == key {
			return true
		}
	}
	return false
}

func parseMillis(values map[string]string, key string) (time.Duration, bool) {
	v := strings.TrimSpace(values[key])
	if v == "" {
		return 0, false
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		log.Printf("[Config] ignoring invalid %s=%q", key, v)
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

func parseBool(values map[string]string, key string, fallback bool) bool {
	v := strings.TrimSpace(values[key])
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[Config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return b
}
