package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds everything the core consumes. Values come from an optional
// YAML file overridden by AISU_* environment variables.
type Config struct {
	AppURL     string `yaml:"app_url"`
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`

	Auth      AuthConfig      `yaml:"auth"`
	CORS      CORSConfig      `yaml:"cors"`
	Users     UserDefaults    `yaml:"users"`
	Container ContainerConfig `yaml:"container"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Beta      BetaConfig      `yaml:"beta"`
	UploadDir string          `yaml:"upload_dir"`
}

// AuthConfig covers bearer token issuance
type AuthConfig struct {
	SigningKey      string `yaml:"signing_key"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
}

// CORSConfig lists allowed origins
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// UserDefaults are applied to newly registered users
type UserDefaults struct {
	CPU       int    `yaml:"cpu"`
	DiskMB    int    `yaml:"disk_mb"`
	Wallpaper string `yaml:"wallpaper"`
}

// ContainerConfig covers the container engine and per-user container shape
type ContainerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	EngineURL        string `yaml:"engine_url"`
	Image            string `yaml:"image"`
	Runtime          string `yaml:"runtime"`
	Network          string `yaml:"network"`
	UserDataBasePath string `yaml:"user_data_base_path"`
	CPUPeriod        int64  `yaml:"cpu_period"`
	RAMPerCPU        string `yaml:"ram_per_cpu"`
	PidsLimit        int64  `yaml:"pids_limit"`
	NetworkRate      string `yaml:"network_rate"`
}

// RateLimitConfig selects and tunes the rate limiter
type RateLimitConfig struct {
	Backend               string `yaml:"backend"` // "memory" or "redis"
	RedisURL              string `yaml:"redis_url"`
	WindowSeconds         int    `yaml:"window_seconds"`
	AuthPerWindow         int    `yaml:"auth_per_window"`
	UsernameInfoPerWindow int    `yaml:"username_info_per_window"`
}

// BetaConfig tunes the invite token flow
type BetaConfig struct {
	Required      bool `yaml:"required"`
	TokenTTLHours int  `yaml:"token_ttl_hours"`
}

// Default returns the built-in development configuration.
func Default() *Config {
	return &Config{
		AppURL:     "http://localhost:8890",
		ListenAddr: ":8890",
		DataDir:    "/var/lib/aisu",
		UploadDir:  "./uploads",
		Auth: AuthConfig{
			SigningKey:      "change-me-in-production",
			TokenTTLMinutes: 1440,
		},
		CORS: CORSConfig{
			Origins: []string{"http://localhost:5173", "http://localhost:4173"},
		},
		Users: UserDefaults{
			CPU:       2,
			DiskMB:    5120,
			Wallpaper: "https://images.aisu.run/wallpaper_image.jpg",
		},
		Container: ContainerConfig{
			Enabled:          true,
			EngineURL:        "unix:///var/run/docker.sock",
			Image:            "aisu/desktop:latest",
			Network:          "aisu-net",
			UserDataBasePath: "/var/lib/aisu/userdata",
			CPUPeriod:        100000,
			RAMPerCPU:        "1g",
			PidsLimit:        256,
			NetworkRate:      "5mbit",
		},
		RateLimit: RateLimitConfig{
			Backend:               "memory",
			WindowSeconds:         60,
			AuthPerWindow:         10,
			UsernameInfoPerWindow: 30,
		},
		Beta: BetaConfig{
			Required:      false,
			TokenTTLHours: 72,
		},
	}
}

// Load reads configuration from path (optional) and applies environment
// overrides. An empty path yields defaults + environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the system assumes.
func (c *Config) Validate() error {
	if c.Auth.SigningKey == "" {
		return fmt.Errorf("auth.signing_key must not be empty")
	}
	if c.Container.CPUPeriod <= 0 {
		return fmt.Errorf("container.cpu_period must be positive")
	}
	if _, err := ParseMemString(c.Container.RAMPerCPU); err != nil {
		return fmt.Errorf("container.ram_per_cpu: %w", err)
	}
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("rate_limit.backend must be \"memory\" or \"redis\", got %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Backend == "redis" && c.RateLimit.RedisURL == "" {
		return fmt.Errorf("rate_limit.redis_url required for redis backend")
	}
	return nil
}

// RAMPerCPUBytes returns the parsed ram_per_cpu value.
func (c *ContainerConfig) RAMPerCPUBytes() int64 {
	n, err := ParseMemString(c.RAMPerCPU)
	if err != nil {
		return 1 << 30
	}
	return n
}

// ParseMemString converts strings like "512m" or "2g" to bytes.
func ParseMemString(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty memory string")
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'k':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g':
		mult = 1 << 30
		s = s[:len(s)-1]
	case 't':
		mult = 1 << 40
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory string %q: %w", s, err)
	}
	return n * mult, nil
}

func applyEnv(cfg *Config) {
	setStr := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setStr("AISU_APP_URL", &cfg.AppURL)
	setStr("AISU_LISTEN_ADDR", &cfg.ListenAddr)
	setStr("AISU_DATA_DIR", &cfg.DataDir)
	setStr("AISU_UPLOAD_DIR", &cfg.UploadDir)
	setStr("AISU_AUTH_SIGNING_KEY", &cfg.Auth.SigningKey)
	setInt("AISU_AUTH_TOKEN_TTL_MINUTES", &cfg.Auth.TokenTTLMinutes)
	if v, ok := os.LookupEnv("AISU_CORS_ORIGINS"); ok {
		cfg.CORS.Origins = strings.Split(v, ",")
	}
	setInt("AISU_DEFAULT_CPU", &cfg.Users.CPU)
	setInt("AISU_DEFAULT_DISK_MB", &cfg.Users.DiskMB)
	setStr("AISU_DEFAULT_WALLPAPER", &cfg.Users.Wallpaper)
	setBool("AISU_CONTAINER_ENABLED", &cfg.Container.Enabled)
	setStr("AISU_CONTAINER_ENGINE_URL", &cfg.Container.EngineURL)
	setStr("AISU_CONTAINER_IMAGE", &cfg.Container.Image)
	setStr("AISU_CONTAINER_RUNTIME", &cfg.Container.Runtime)
	setStr("AISU_CONTAINER_NETWORK", &cfg.Container.Network)
	setStr("AISU_USER_DATA_BASE_PATH", &cfg.Container.UserDataBasePath)
	setStr("AISU_CONTAINER_RAM_PER_CPU", &cfg.Container.RAMPerCPU)
	setStr("AISU_CONTAINER_NETWORK_RATE", &cfg.Container.NetworkRate)
	setStr("AISU_RATE_LIMIT_BACKEND", &cfg.RateLimit.Backend)
	setStr("AISU_RATE_LIMIT_REDIS_URL", &cfg.RateLimit.RedisURL)
	setInt("AISU_RATE_LIMIT_WINDOW_SECONDS", &cfg.RateLimit.WindowSeconds)
	setBool("AISU_BETA_REQUIRED", &cfg.Beta.Required)
}
