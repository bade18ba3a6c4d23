package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config is the server configuration as read from an HCL file. Every block is optional.
type Config struct {
	Server *ServerSettings `hcl:"server,block"`
	Store  *StoreSettings  `hcl:"store,block"`
	Redis  *RedisSettings  `hcl:"redis,block"`
	Game   *GameSettings   `hcl:"game,block"`
}

type ServerSettings struct {
	Address        string `hcl:"address,optional"`
	LogLevel       string `hcl:"log_level,optional"`
	RequestTimeout string `hcl:"request_timeout,optional"`
}

type StoreSettings struct {
	Mode        string `hcl:"mode,optional"`
	DatabaseURL string `hcl:"database_url,optional"`
	LocalPath   string `hcl:"local_path,optional"`
}

// RedisSettings enables the Redis notification feed and session store when Addr is set.
type RedisSettings struct {
	Addr string `hcl:"addr,optional"`
}

type GameSettings struct {
	DefaultTTL     string `hcl:"default_ttl,optional"`
	AutoValidate   *bool  `hcl:"auto_validate,optional"`
	SessionTTL     string `hcl:"session_ttl,optional"`
	ExpiryInterval string `hcl:"expiry_interval,optional"`
}

func Default() *Config {
	autoValidate := true
	return &Config{
		Server: &ServerSettings{
			Address:        ":8080",
			LogLevel:       "info",
			RequestTimeout: "5s",
		},
		Store: &StoreSettings{
			Mode: "sqlite",
		},
		Redis: &RedisSettings{},
		Game: &GameSettings{
			DefaultTTL:     "12h",
			AutoValidate:   &autoValidate,
			SessionTTL:     "24h",
			ExpiryInterval: "1m",
		},
	}
}

// Load reads filename, falling back to defaults when the file does not exist.
func Load(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return Default(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	return decode(file, diags)
}

// Parse decodes HCL source; filename is only used in diagnostics.
func Parse(src []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	return decode(file, diags)
}

func decode(file *hcl.File, diags hcl.Diagnostics) (*Config, error) {
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var cfg Config
	diags = gohcl.DecodeBody(file.Body, nil, &cfg)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Server == nil {
		c.Server = def.Server
	}
	if c.Server.Address == "" {
		c.Server.Address = def.Server.Address
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = def.Server.LogLevel
	}
	if c.Server.RequestTimeout == "" {
		c.Server.RequestTimeout = def.Server.RequestTimeout
	}
	if c.Store == nil {
		c.Store = def.Store
	}
	if c.Store.Mode == "" {
		c.Store.Mode = def.Store.Mode
	}
	if c.Redis == nil {
		c.Redis = def.Redis
	}
	if c.Game == nil {
		c.Game = def.Game
	}
	if c.Game.DefaultTTL == "" {
		c.Game.DefaultTTL = def.Game.DefaultTTL
	}
	if c.Game.AutoValidate == nil {
		c.Game.AutoValidate = def.Game.AutoValidate
	}
	if c.Game.SessionTTL == "" {
		c.Game.SessionTTL = def.Game.SessionTTL
	}
	if c.Game.ExpiryInterval == "" {
		c.Game.ExpiryInterval = def.Game.ExpiryInterval
	}
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store.Mode) {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid store mode: %s", c.Store.Mode)
	}
	if strings.EqualFold(c.Store.Mode, "postgres") && strings.TrimSpace(c.Store.DatabaseURL) == "" {
		return fmt.Errorf("store mode postgres requires database_url")
	}
	for name, raw := range map[string]string{
		"request_timeout": c.Server.RequestTimeout,
		"default_ttl":     c.Game.DefaultTTL,
		"session_ttl":     c.Game.SessionTTL,
		"expiry_interval": c.Game.ExpiryInterval,
	} {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid %s: must not be negative", name)
		}
	}
	return nil
}

func (c *Config) RequestTimeout() time.Duration { return mustDuration(c.Server.RequestTimeout) }

// GameTTL is how long a new game stays open before the sweeper closes it. Zero disables expiry.
func (c *Config) GameTTL() time.Duration { return mustDuration(c.Game.DefaultTTL) }

func (c *Config) SessionTTL() time.Duration { return mustDuration(c.Game.SessionTTL) }

func (c *Config) ExpiryInterval() time.Duration { return mustDuration(c.Game.ExpiryInterval) }

func (c *Config) AutoValidate() bool { return c.Game.AutoValidate == nil || *c.Game.AutoValidate }

// mustDuration is only called after Validate.
func mustDuration(raw string) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}
