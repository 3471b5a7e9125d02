package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort        = 3000
	DefaultSocketPath      = "/socket"
	DefaultSendBuffer      = 16
	DefaultMaxMessageSize  = 4096
	DefaultStoreBackend    = "memory"
	DefaultStoreTimeout    = 2 * time.Second
	DefaultDeliveryTimeout = 5 * time.Second
	DefaultKeyPrefix       = "binding:"
	DefaultPresenceChannel = "relay:presence"
	DefaultHeartbeat       = 10 * time.Second
	DefaultNodeTTL         = 30 * time.Second
)

// Config holds the server-side configuration parsed from the `server:` section
// of the config file.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort serves the WebSocket endpoint, the REST API and /metrics.
	HTTPPort int `yaml:"http_port"`

	// NodeID names this process in cross-node presence announcements.
	// A random UUID is used when empty.
	NodeID string `yaml:"node_id"`

	// LogLevel is one of: debug | info | warn | error. Hot-reloadable.
	LogLevel string `yaml:"log_level"`

	Transport TransportConfig `yaml:"transport"`
	Store     StoreConfig     `yaml:"store"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Presence  PresenceConfig  `yaml:"presence"`
}

// TransportConfig controls the WebSocket endpoint.
type TransportConfig struct {
	Path string `yaml:"path"`

	// AllowedOrigins restricts the Origin header on upgrade. Empty allows all.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// SendBuffer is the per-connection outgoing frame buffer depth.
	SendBuffer int `yaml:"send_buffer"`

	// MaxMessageSize is the read limit for inbound frames, in bytes.
	MaxMessageSize int64 `yaml:"max_message_size"`
}

// StoreConfig selects and configures the identity binding store.
type StoreConfig struct {
	// Backend is one of: memory | redis | postgres.
	Backend string `yaml:"backend"`

	// Timeout bounds every single store call.
	Timeout time.Duration `yaml:"timeout"`

	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig configures the Redis binding store and presence fan-out.
type RedisConfig struct {
	Addr string `yaml:"addr"`

	// PasswordEnv is the name of the environment variable holding the password.
	PasswordEnv string `yaml:"password_env"`

	DB int `yaml:"db"`

	// KeyPrefix is prepended to every identity key. Defaults to "binding:".
	KeyPrefix string `yaml:"key_prefix"`

	// PresenceChannel is the pub/sub channel for cross-node presence counts.
	PresenceChannel string `yaml:"presence_channel"`
}

// Password returns the Redis password resolved from the environment.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// PostgresConfig configures the PostgreSQL binding store.
type PostgresConfig struct {
	// DSNEnv is the name of the environment variable holding the connection string.
	DSNEnv string `yaml:"dsn_env"`

	MaxConns int32 `yaml:"max_conns"`
}

// DSN returns the connection string resolved from the environment.
func (p PostgresConfig) DSN() string {
	if p.DSNEnv == "" {
		return ""
	}
	return os.Getenv(p.DSNEnv)
}

// DeliveryConfig controls routed delivery and the greeting trigger on GET /.
// All fields are hot-reloadable.
type DeliveryConfig struct {
	// Event is the server-to-client event used for pushed messages.
	Event string `yaml:"event"`

	// BindAck is returned to a client after a successful bind.
	BindAck string `yaml:"bind_ack"`

	// Timeout bounds a whole delivery attempt (resolve + send).
	Timeout time.Duration `yaml:"timeout"`

	// Greeting configures the GET / trigger.
	Greeting GreetingConfig `yaml:"greeting"`
}

// GreetingConfig names who GET / greets and with what.
type GreetingConfig struct {
	Identity string `yaml:"identity"`
	Message  string `yaml:"message"`

	// Reply is the plain-text body returned to the HTTP caller on delivery.
	Reply string `yaml:"reply"`
}

// PresenceConfig controls count broadcasts and cross-node announcements.
type PresenceConfig struct {
	// Event is the server-to-client event carrying the live count.
	Event string `yaml:"event"`

	// Heartbeat republishes the local count to other nodes at this interval.
	Heartbeat time.Duration `yaml:"heartbeat"`

	// NodeTTL drops a remote node from the cluster view after this much silence.
	NodeTTL time.Duration `yaml:"node_ttl"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML data on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			LogLevel: "info",
			Transport: TransportConfig{
				Path:           DefaultSocketPath,
				SendBuffer:     DefaultSendBuffer,
				MaxMessageSize: DefaultMaxMessageSize,
			},
			Store: StoreConfig{
				Backend: DefaultStoreBackend,
				Timeout: DefaultStoreTimeout,
				Redis: RedisConfig{
					Addr:            "127.0.0.1:6379",
					KeyPrefix:       DefaultKeyPrefix,
					PresenceChannel: DefaultPresenceChannel,
				},
				Postgres: PostgresConfig{
					MaxConns: 4,
				},
			},
			Delivery: DeliveryConfig{
				Event:   "hello",
				BindAck: "ok",
				Timeout: DefaultDeliveryTimeout,
				Greeting: GreetingConfig{
					Identity: "abcd",
					Message:  "你好",
					Reply:    "Hello World!",
				},
			},
			Presence: PresenceConfig{
				Event:     "users",
				Heartbeat: DefaultHeartbeat,
				NodeTTL:   DefaultNodeTTL,
			},
		},
	}
}

// Level maps LogLevel onto a slog level.
func (s ServerConfig) Level() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", s.LogLevel)
	}
	if !strings.HasPrefix(s.Transport.Path, "/") {
		return fmt.Errorf("server.transport.path %q must start with /", s.Transport.Path)
	}
	switch p := s.Transport.Path; {
	case p == "/", p == "/metrics", p == "/healthz", strings.HasPrefix(p, "/api/"):
		return fmt.Errorf("server.transport.path %q collides with an HTTP route", p)
	}
	if s.Transport.SendBuffer <= 0 {
		return fmt.Errorf("server.transport.send_buffer must be positive")
	}
	if s.Transport.MaxMessageSize <= 0 {
		return fmt.Errorf("server.transport.max_message_size must be positive")
	}
	switch s.Store.Backend {
	case "memory":
	case "redis":
		if s.Store.Redis.Addr == "" {
			return fmt.Errorf("server.store.redis.addr is required for the redis backend")
		}
	case "postgres":
		if s.Store.Postgres.DSNEnv == "" {
			return fmt.Errorf("server.store.postgres.dsn_env is required for the postgres backend")
		}
	default:
		return fmt.Errorf("server.store.backend %q unknown: want memory|redis|postgres", s.Store.Backend)
	}
	if s.Store.Timeout <= 0 {
		return fmt.Errorf("server.store.timeout must be positive")
	}
	if s.Delivery.Timeout <= 0 {
		return fmt.Errorf("server.delivery.timeout must be positive")
	}
	if s.Delivery.Event == "" || s.Presence.Event == "" {
		return fmt.Errorf("server.delivery.event and server.presence.event must not be empty")
	}
	if s.Delivery.Event == s.Presence.Event {
		return fmt.Errorf("server.delivery.event and server.presence.event must differ")
	}
	if s.Presence.Heartbeat <= 0 {
		return fmt.Errorf("server.presence.heartbeat must be positive")
	}
	if s.Presence.NodeTTL < s.Presence.Heartbeat {
		return fmt.Errorf("server.presence.node_ttl must not be shorter than heartbeat")
	}
	return nil
}
