package config

import (
	"testing"
	"time"
)

func TestParseSettingsDefaults(t *testing.T) {
	s := ParseSettings(nil)
	want := DefaultSettings()

	if s.ListenAddr != ":9413" {
		t.Fatalf("ListenAddr = %q; want :9413", s.ListenAddr)
	}
	if s.MinRunDuration != want.MinRunDuration || s.StopGrace != want.StopGrace {
		t.Fatalf("durations = %v/%v; want %v/%v", s.MinRunDuration, s.StopGrace, want.MinRunDuration, want.StopGrace)
	}
	if s.Title != "Foreground Service" || s.Text != "Service is running..." || s.ChannelID != "ForegroundServiceChannel" {
		t.Fatalf("unexpected notification defaults: %+v", s)
	}
	if !s.Grants.Notifications || !s.Grants.Network || !s.Grants.SharedRead {
		t.Fatalf("grants should default to granted: %+v", s.Grants)
	}
}

func TestParseSettingsOverrides(t *testing.T) {
	s := ParseSettings(map[string]string{
		KeySharedDir:         "/srv/share",
		KeyListenAddr:        "127.0.0.1:9999",
		KeyEngineCommand:     "  /usr/bin/dexft-server --verbose ",
		KeyMinRunMillis:      "0",
		KeyStopGraceMillis:   "1500",
		KeyStartRatePerSec:   "2",
		KeyStartBurst:        "1",
		KeyPushTokens:        "ExponentPushToken[a], ,ExponentPushToken[b]",
		KeyPermissionNotify:  "false",
		KeyPermissionNetwork: "not-a-bool",
	})

	if s.SharedDir != "/srv/share" || s.ListenAddr != "127.0.0.1:9999" {
		t.Fatalf("unexpected dir/addr: %q %q", s.SharedDir, s.ListenAddr)
	}
	if len(s.EngineCommand) != 2 || s.EngineCommand[0] != "/usr/bin/dexft-server" {
		t.Fatalf("EngineCommand = %v", s.EngineCommand)
	}
	if s.MinRunDuration != 0 {
		t.Fatalf("MinRunDuration = %v; want 0", s.MinRunDuration)
	}
	if s.StopGrace != 1500*time.Millisecond {
		t.Fatalf("StopGrace = %v", s.StopGrace)
	}
	if s.StartRate != 2 || s.StartBurst != 1 {
		t.Fatalf("rate = %v burst = %d", s.StartRate, s.StartBurst)
	}
	if len(s.PushTokens) != 2 {
		t.Fatalf("PushTokens = %v", s.PushTokens)
	}
	if s.Grants.Notifications {
		t.Fatalf("notifications grant should be revoked")
	}
	if !s.Grants.Network {
		t.Fatalf("invalid bool should keep the default grant")
	}
}

func TestParseSettingsRejectsNegativeMillis(t *testing.T) {
	s := ParseSettings(map[string]string{KeyStopGraceMillis: "-5", KeyMinRunMillis: "abc"})
	def := DefaultSettings()
	if s.StopGrace != def.StopGrace || s.MinRunDuration != def.MinRunDuration {
		t.Fatalf("invalid values should fall back to defaults, got %v/%v", s.StopGrace, s.MinRunDuration)
	}
}

func TestIsKnownKey(t *testing.T) {
	if !IsKnownKey(KeyListenAddr) {
		t.Fatalf("expected %s to be known", KeyListenAddr)
	}
	if IsKnownKey("bogus.key") {
		t.Fatalf("bogus.key should not be known")
	}
}
