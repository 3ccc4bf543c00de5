package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
session:
  user_id: op-1
  role: operator
stream:
  url: ws://example/ws
  reconnect:
    max_attempts: 5
alerts:
  settle_delay: 250ms
audio:
  volume: 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Session.UserID != "op-1" || cfg.Stream.URL != "ws://example/ws" {
		t.Fatalf("values not decoded: %+v", cfg.Session)
	}
	if cfg.Stream.Reconnect.MaxAttempts != 5 || cfg.Stream.Reconnect.InitialDelay != time.Second {
		t.Fatalf("unexpected reconnect config: %+v", cfg.Stream.Reconnect)
	}
	if cfg.Alerts.SettleDelay != 250*time.Millisecond || cfg.Alerts.HistoryLimit != 50 {
		t.Fatalf("unexpected alerts config: %+v", cfg.Alerts)
	}
	if cfg.Audio.Volume != 1 {
		t.Fatalf("volume not clamped: %v", cfg.Audio.Volume)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"stream":{"transport":"kafka","kafka":{"brokers":["k:9092"],"inbound_topic":"in","outbound_topic":"out"}}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Stream.Transport != "kafka" || cfg.Stream.Kafka.GroupPrefix != "alertdesk" {
		t.Fatalf("unexpected stream config: %+v", cfg.Stream)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"transport":    func(c *Config) { c.Stream.Transport = "carrier-pigeon" },
		"kafka":        func(c *Config) { c.Stream.Transport = "kafka" },
		"audio":        func(c *Config) { c.Audio.Backend = "exec" },
		"storage": func(c *Config) {
			c.Storage.Enabled = true
			c.Storage.Driver = "mongo"
		},
		"email limit":  func(c *Config) { c.Notifications.EmailLimit = 200 },
		"mqtt": func(c *Config) {
			c.SideChannels.MQTT.Enabled = true
			c.SideChannels.MQTT.Broker = ""
		},
		"max attempts": func(c *Config) { c.Stream.Reconnect.MaxAttempts = -1 },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestEmptyFileRejected(t *testing.T) {
	if _, err := Load(writeFile(t, "empty.yaml", "  \n")); err == nil {
		t.Fatalf("expected error for empty config")
	}
}

func TestManagerUpdateAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("save: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	next := *m.Get()
	next.Alerts.SettleDelay = 2 * time.Second
	if err := m.Update(&next); err != nil {
		t.Fatalf("update: %v", err)
	}
	if needs, _ := m.NeedsReload(); needs {
		t.Fatalf("own write should not trigger reload")
	}
	cfg, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Alerts.SettleDelay != 2*time.Second {
		t.Fatalf("settle delay not persisted: %v", cfg.Alerts.SettleDelay)
	}
}

func TestWatchReportsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("save: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	reloaded := make(chan *Config, 1)
	stop := make(chan struct{})
	defer close(stop)
	go m.Watch(10*time.Millisecond, func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	}, nil, stop)

	cfg := DefaultConfig()
	cfg.LogLevel = "debug"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	select {
	case c := <-reloaded:
		if c.LogLevel != "debug" {
			t.Fatalf("unexpected log level %q", c.LogLevel)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watch did not reload")
	}
}

func TestStaticManager(t *testing.T) {
	m := NewStaticManager(nil)
	if m.Get().Stream.CacheSize != 50 || m.Path() != "" {
		t.Fatalf("unexpected static manager state")
	}
	if needs, err := m.NeedsReload(); needs || err != nil {
		t.Fatalf("static manager never reloads")
	}
}
