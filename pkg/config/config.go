package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend modes
const (
	ModeRemote = "remote"
	ModeLocal  = "local"
)

// Duration wraps time.Duration so YAML values like "45s" parse directly
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the panel's configuration, loaded from a YAML file with
// sensible defaults for every field
type Config struct {
	// Listen is the address the HTTP/WebSocket server binds to
	Listen string `yaml:"listen"`

	// DataDir holds the panel database
	DataDir string `yaml:"data_dir"`

	Log       LogConfig       `yaml:"log"`
	Registry  RegistryConfig  `yaml:"registry"`
	Console   ConsoleConfig   `yaml:"console"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Backend   BackendConfig   `yaml:"backend"`
	Tokens    TokensConfig    `yaml:"tokens"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type RegistryConfig struct {
	AuthTimeout  Duration `yaml:"auth_timeout"`
	PingInterval Duration `yaml:"ping_interval"`
}

type ConsoleConfig struct {
	PollInterval Duration `yaml:"poll_interval"`

	// ReconnectDelay is advertised to browser clients as the fixed
	// delay before a reconnect attempt. Tunable because a fixed delay
	// risks thundering herds at large fleet sizes.
	ReconnectDelay Duration `yaml:"reconnect_delay"`
}

type SchedulerConfig struct {
	TickInterval Duration `yaml:"tick_interval"`
}

type BackendConfig struct {
	// Mode selects the execution boundary: "remote" routes operations
	// through connected daemons, "local" drives containerd on this host
	Mode string `yaml:"mode"`

	ContainerdSocket string `yaml:"containerd_socket"`
	DataRoot         string `yaml:"data_root"`
	BackupRoot       string `yaml:"backup_root"`
}

type TokensConfig struct {
	TTL Duration `yaml:"ttl"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Listen:  ":8080",
		DataDir: "/var/lib/bastion",
		Log: LogConfig{
			Level: "info",
			JSON:  true,
		},
		Registry: RegistryConfig{
			AuthTimeout:  Duration(30 * time.Second),
			PingInterval: Duration(45 * time.Second),
		},
		Console: ConsoleConfig{
			PollInterval:   Duration(2 * time.Second),
			ReconnectDelay: Duration(5 * time.Second),
		},
		Scheduler: SchedulerConfig{
			TickInterval: Duration(60 * time.Second),
		},
		Backend: BackendConfig{
			Mode:       ModeRemote,
			DataRoot:   "/var/lib/bastion/servers",
			BackupRoot: "/var/lib/bastion/backups",
		},
		Tokens: TokensConfig{
			TTL: Duration(10 * time.Minute),
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Backend.Mode != ModeRemote && c.Backend.Mode != ModeLocal {
		return fmt.Errorf("backend mode must be %q or %q, got %q", ModeRemote, ModeLocal, c.Backend.Mode)
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	return nil
}
