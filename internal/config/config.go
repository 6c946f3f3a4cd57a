package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents ~/.homechat/config.toml. The token grants access to
// the messaging API, hence the tight file permissions.
type Config struct {
	BaseURL  string `toml:"base_url"`
	Token    string `toml:"token"`
	UserID   string `toml:"user_id"`
	UserName string `toml:"user_name"`

	PollInterval      duration `toml:"poll_interval"`
	TypingIdleStop    duration `toml:"typing_idle_stop"`
	ReconnectAttempts int      `toml:"reconnect_attempts"`
	ReconnectBase     duration `toml:"reconnect_base"`
	ReconnectMax      duration `toml:"reconnect_max"`

	LogFile string `toml:"log_file"`
}

// duration lets the file say "5s" instead of nanosecond counts.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a config with everything but the credentials filled in.
func Default() *Config {
	return &Config{
		PollInterval:      duration{5 * time.Second},
		TypingIdleStop:    duration{2 * time.Second},
		ReconnectAttempts: 6,
		ReconnectBase:     duration{time.Second},
		ReconnectMax:      duration{30 * time.Second},
	}
}

// DefaultPath returns ~/.homechat/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".homechat", "config.toml"), nil
}

// Load reads config from the given path, with defaults applied for any
// timing field the file leaves unset.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.PollInterval.Duration <= 0 {
		cfg.PollInterval = Default().PollInterval
	}
	if cfg.TypingIdleStop.Duration <= 0 {
		cfg.TypingIdleStop = Default().TypingIdleStop
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
