package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"alertdesk/internal/model"
)

type Config struct {
	LogLevel      string              `json:"log_level" yaml:"log_level"`
	LogFormat     string              `json:"log_format" yaml:"log_format"`
	Session       model.Session       `json:"session" yaml:"session"`
	Stream        StreamConfig        `json:"stream" yaml:"stream"`
	Alerts        AlertsConfig        `json:"alerts" yaml:"alerts"`
	Audio         AudioConfig         `json:"audio" yaml:"audio"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
	Outbound      OutboundConfig      `json:"outbound" yaml:"outbound"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	SideChannels  SideChannelsConfig  `json:"side_channels" yaml:"side_channels"`
	API           APIConfig           `json:"api" yaml:"api"`
}

type StreamConfig struct {
	Transport      string          `json:"transport" yaml:"transport"`
	URL            string          `json:"url" yaml:"url"`
	ConnectTimeout time.Duration   `json:"connect_timeout" yaml:"connect_timeout"`
	Reconnect      ReconnectConfig `json:"reconnect" yaml:"reconnect"`
	ChannelBuffer  int             `json:"channel_buffer" yaml:"channel_buffer"`
	CacheSize      int             `json:"cache_size" yaml:"cache_size"`
	DedupeWindow   time.Duration   `json:"dedupe_window" yaml:"dedupe_window"`
	StaleAfter     time.Duration   `json:"stale_after" yaml:"stale_after"`
	Kafka          KafkaConfig     `json:"kafka" yaml:"kafka"`
}

type ReconnectConfig struct {
	MaxAttempts  int           `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay"`
	Factor       float64       `json:"factor" yaml:"factor"`
}

type KafkaConfig struct {
	Brokers       []string `json:"brokers" yaml:"brokers"`
	InboundTopic  string   `json:"inbound_topic" yaml:"inbound_topic"`
	OutboundTopic string   `json:"outbound_topic" yaml:"outbound_topic"`
	GroupPrefix   string   `json:"group_prefix" yaml:"group_prefix"`
}

type AlertsConfig struct {
	SettleDelay  time.Duration `json:"settle_delay" yaml:"settle_delay"`
	HistoryLimit int           `json:"history_limit" yaml:"history_limit"`
	DefaultSound string        `json:"default_sound" yaml:"default_sound"`
}

type AudioConfig struct {
	Backend        string   `json:"backend" yaml:"backend"`
	Command        string   `json:"command" yaml:"command"`
	Args           []string `json:"args" yaml:"args"`
	Volume         float64  `json:"volume" yaml:"volume"`
	Loop           bool     `json:"loop" yaml:"loop"`
	RequireGesture bool     `json:"require_gesture" yaml:"require_gesture"`
}

type NotificationsConfig struct {
	StoreLimit    int  `json:"store_limit" yaml:"store_limit"`
	EmailLimit    int  `json:"email_limit" yaml:"email_limit"`
	SimulateEmail bool `json:"simulate_email" yaml:"simulate_email"`
}

type OutboundConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	Token   string        `json:"-" yaml:"token"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
	Path    string `json:"path" yaml:"path"`
	Key     string `json:"key" yaml:"key"`
}

type SideChannelsConfig struct {
	MQTT MQTTConfig `json:"mqtt" yaml:"mqtt"`
	REST RESTConfig `json:"rest" yaml:"rest"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Broker   string `json:"broker" yaml:"broker"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Topic    string `json:"topic" yaml:"topic"`
	QoS      byte   `json:"qos" yaml:"qos"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"-" yaml:"password"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

const defaultSound = "/audio/security-alarm-63578.mp3"

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Stream: StreamConfig{
			Transport:      "websocket",
			URL:            "ws://localhost:5000/ws",
			ConnectTimeout: 10 * time.Second,
			Reconnect: ReconnectConfig{
				MaxAttempts:  3,
				InitialDelay: 1 * time.Second,
				MaxDelay:     5 * time.Second,
				Factor:       2,
			},
			ChannelBuffer: 1024,
			CacheSize:     50,
			DedupeWindow:  1 * time.Second,
			StaleAfter:    60 * time.Second,
			Kafka:         KafkaConfig{GroupPrefix: "alertdesk"},
		},
		Alerts: AlertsConfig{
			SettleDelay:  500 * time.Millisecond,
			HistoryLimit: 50,
			DefaultSound: defaultSound,
		},
		Audio: AudioConfig{
			Backend: "headless",
			Volume:  0.7,
			Loop:    true,
		},
		Notifications: NotificationsConfig{
			StoreLimit:    100,
			EmailLimit:    50,
			SimulateEmail: true,
		},
		Outbound: OutboundConfig{
			BaseURL: "http://localhost:5000/api",
			Timeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Enabled: true,
			Driver:  "file",
			Path:    "alertdesk-state.json",
			Key:     "notification-store",
		},
		SideChannels: SideChannelsConfig{
			MQTT: MQTTConfig{Enabled: false, ClientID: "alertdesk", Topic: "alertdesk/email", QoS: 1},
			REST: RESTConfig{Enabled: false, Addr: ":8090"},
		},
		API: APIConfig{Enabled: true, Addr: ":8091"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Stream.Transport == "" {
		cfg.Stream.Transport = def.Stream.Transport
	}
	if cfg.Stream.ConnectTimeout <= 0 {
		cfg.Stream.ConnectTimeout = def.Stream.ConnectTimeout
	}
	if cfg.Stream.Reconnect.InitialDelay <= 0 {
		cfg.Stream.Reconnect.InitialDelay = def.Stream.Reconnect.InitialDelay
	}
	if cfg.Stream.Reconnect.MaxDelay <= 0 {
		cfg.Stream.Reconnect.MaxDelay = def.Stream.Reconnect.MaxDelay
	}
	if cfg.Stream.Reconnect.Factor < 1 {
		cfg.Stream.Reconnect.Factor = def.Stream.Reconnect.Factor
	}
	if cfg.Stream.ChannelBuffer <= 0 {
		cfg.Stream.ChannelBuffer = def.Stream.ChannelBuffer
	}
	if cfg.Stream.CacheSize <= 0 {
		cfg.Stream.CacheSize = def.Stream.CacheSize
	}
	if cfg.Stream.StaleAfter <= 0 {
		cfg.Stream.StaleAfter = def.Stream.StaleAfter
	}
	if cfg.Stream.Kafka.GroupPrefix == "" {
		cfg.Stream.Kafka.GroupPrefix = def.Stream.Kafka.GroupPrefix
	}
	if cfg.Alerts.SettleDelay < 0 {
		cfg.Alerts.SettleDelay = 0
	}
	if cfg.Alerts.HistoryLimit <= 0 {
		cfg.Alerts.HistoryLimit = def.Alerts.HistoryLimit
	}
	if cfg.Alerts.DefaultSound == "" {
		cfg.Alerts.DefaultSound = def.Alerts.DefaultSound
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = def.Audio.Backend
	}
	cfg.Audio.Volume = clamp01(cfg.Audio.Volume)
	if cfg.Notifications.StoreLimit <= 0 {
		cfg.Notifications.StoreLimit = def.Notifications.StoreLimit
	}
	if cfg.Notifications.EmailLimit <= 0 {
		cfg.Notifications.EmailLimit = def.Notifications.EmailLimit
	}
	if cfg.Outbound.Timeout <= 0 {
		cfg.Outbound.Timeout = def.Outbound.Timeout
	}
	if cfg.Storage.Key == "" {
		cfg.Storage.Key = def.Storage.Key
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.Stream.Transport) {
	case "websocket", "ws":
		if cfg.Stream.URL == "" {
			return errors.New("stream.url required for websocket transport")
		}
	case "kafka":
		k := cfg.Stream.Kafka
		if len(k.Brokers) == 0 || k.InboundTopic == "" || k.OutboundTopic == "" {
			return errors.New("stream.kafka requires brokers, inbound_topic, outbound_topic")
		}
	default:
		return fmt.Errorf("unsupported stream.transport: %q", cfg.Stream.Transport)
	}
	if cfg.Stream.Reconnect.MaxAttempts < 0 {
		return errors.New("stream.reconnect.max_attempts must be >= 0")
	}
	if cfg.Notifications.EmailLimit > cfg.Notifications.StoreLimit {
		return errors.New("notifications.email_limit must not exceed notifications.store_limit")
	}
	switch strings.ToLower(cfg.Audio.Backend) {
	case "headless":
	case "exec":
		if cfg.Audio.Command == "" {
			return errors.New("audio.command required when audio.backend is exec")
		}
	default:
		return fmt.Errorf("unsupported audio.backend: %q", cfg.Audio.Backend)
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "file":
			if cfg.Storage.Path == "" {
				return errors.New("storage.path required for file driver")
			}
		case "sqlite", "postgres", "postgresql", "redis":
		default:
			return fmt.Errorf("unsupported storage.driver: %q", cfg.Storage.Driver)
		}
	}
	if cfg.SideChannels.MQTT.Enabled && (cfg.SideChannels.MQTT.Broker == "" || cfg.SideChannels.MQTT.Topic == "") {
		return errors.New("side_channels.mqtt requires broker and topic")
	}
	if cfg.SideChannels.REST.Enabled && cfg.SideChannels.REST.Addr == "" {
		return errors.New("side_channels.rest.addr required when side_channels.rest.enabled is true")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config that is never reloaded.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
