package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		// AuthRequired puts session-mutating routes behind a bearer credential.
		AuthRequired bool `yaml:"auth_required"`
	} `yaml:"server"`

	Control struct {
		Enabled      bool          `yaml:"enabled"`
		Path         string        `yaml:"path"`
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"control"`

	Compositor struct {
		Name          string  `yaml:"name"`
		OutputWidth   int     `yaml:"output_width"`
		OutputHeight  int     `yaml:"output_height"`
		Layout        string  `yaml:"layout"`
		OffsetX       int     `yaml:"offset_x"`
		OffsetY       int     `yaml:"offset_y"`
		Opacity       float64 `yaml:"opacity"`
		ChannelBuffer int     `yaml:"channel_buffer"`
	} `yaml:"compositor"`

	Source struct {
		FPS    int `yaml:"fps"`
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	} `yaml:"source"`

	Overlay struct {
		Mode           string  `yaml:"mode"` // "text" or "card"
		Text           string  `yaml:"text"`
		TextColor      string  `yaml:"text_color"`
		FontSize       float64 `yaml:"font_size"`
		MaxSurfaceSide int     `yaml:"max_surface_side"`
		// CacheTTL > 0 reuses rendered bitmaps for identical requests.
		CacheTTL     time.Duration `yaml:"cache_ttl"`
		CacheEntries int           `yaml:"cache_entries"`
		Card         struct {
			Name       string `yaml:"name"`
			Title      string `yaml:"title"`
			Company    string `yaml:"company"`
			Email      string `yaml:"email"`
			BrandColor string `yaml:"brand_color"`
			TextColor  string `yaml:"text_color"`
			CardHeight int    `yaml:"card_height"`
		} `yaml:"card"`
	} `yaml:"overlay"`

	Session struct {
		Name     string `yaml:"name"`
		UserName string `yaml:"user_name"`
		Role     int    `yaml:"role"`
	} `yaml:"session"`

	Credential struct {
		SDKKey    string        `yaml:"sdk_key"`
		SDKSecret string        `yaml:"sdk_secret"`
		TTL       time.Duration `yaml:"ttl"`
	} `yaml:"credential"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		Channel  string `yaml:"channel"`

		BreakerThreshold int           `yaml:"breaker_threshold"`
		BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
		RegistryTTL      time.Duration `yaml:"registry_ttl"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Retry struct {
		MaxAttempts  int           `yaml:"max_attempts"`
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
	} `yaml:"retry"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Control
	if c.Control.Enabled {
		if c.Control.Path == "" {
			return fmt.Errorf("control.path must not be empty when control.enabled=true")
		}
		if c.Control.PingInterval <= 0 || c.Control.PongTimeout <= 0 {
			return fmt.Errorf("control.ping_interval and control.pong_timeout must be > 0")
		}
	}

	// Compositor
	if c.Compositor.Name == "" {
		return fmt.Errorf("compositor.name must not be empty")
	}
	if c.Compositor.OutputWidth <= 0 || c.Compositor.OutputHeight <= 0 {
		return fmt.Errorf("compositor.output_width and output_height must be > 0")
	}
	switch c.Compositor.Layout {
	case "", "centered-overlay", "bottom-bar":
	default:
		return fmt.Errorf("compositor.layout must be centered-overlay or bottom-bar, got %q", c.Compositor.Layout)
	}
	if c.Compositor.Opacity < 0 || c.Compositor.Opacity > 1 {
		return fmt.Errorf("compositor.opacity must be within [0, 1]")
	}
	if c.Compositor.ChannelBuffer < 0 {
		return fmt.Errorf("compositor.channel_buffer must be >= 0")
	}

	// Source
	if c.Source.FPS <= 0 {
		return fmt.Errorf("source.fps must be > 0")
	}
	if c.Source.Width <= 0 || c.Source.Height <= 0 {
		return fmt.Errorf("source.width and source.height must be > 0")
	}

	// Overlay
	switch c.Overlay.Mode {
	case "text", "card":
	default:
		return fmt.Errorf("overlay.mode must be text or card, got %q", c.Overlay.Mode)
	}
	if c.Overlay.MaxSurfaceSide <= 0 {
		return fmt.Errorf("overlay.max_surface_side must be > 0")
	}
	if c.Overlay.CacheTTL < 0 || c.Overlay.CacheEntries < 0 {
		return fmt.Errorf("overlay.cache_ttl and overlay.cache_entries must be >= 0")
	}

	// Credential
	if c.Credential.TTL <= 0 {
		return fmt.Errorf("credential.ttl must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis.channel must not be empty when redis.enabled=true")
		}
		if c.Redis.BreakerThreshold < 0 || c.Redis.BreakerTimeout < 0 {
			return fmt.Errorf("redis.breaker_threshold and redis.breaker_timeout must be >= 0")
		}
		if c.Redis.RegistryTTL <= 0 {
			return fmt.Errorf("redis.registry_ttl must be > 0 when redis.enabled=true")
		}
	}

	// Tracing
	if c.Tracing.Enabled && (c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be within (0, 1] when tracing is enabled")
	}

	// Retry
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be >= 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile is Load for an explicitly named file, which must exist.
func LoadFile(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}
	return Load(configPath)
}

// FromEnv returns the defaults with environment overrides applied.
func FromEnv() *Config {
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	return cfg
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Control.Enabled = true
	cfg.Control.Path = "/ws/control"
	cfg.Control.PingInterval = 30 * time.Second
	cfg.Control.PongTimeout = 60 * time.Second
	cfg.Control.WriteTimeout = 10 * time.Second

	cfg.Compositor.Name = "watermark-processor"
	cfg.Compositor.OutputWidth = 1280
	cfg.Compositor.OutputHeight = 720
	cfg.Compositor.Layout = "" // derived from overlay.mode
	cfg.Compositor.Opacity = 0.5
	cfg.Compositor.ChannelBuffer = 8

	cfg.Source.FPS = 30
	cfg.Source.Width = 1280
	cfg.Source.Height = 720

	cfg.Overlay.Mode = "text"
	cfg.Overlay.Text = "Hello world!"
	cfg.Overlay.TextColor = "#ff0000"
	cfg.Overlay.FontSize = 60
	cfg.Overlay.MaxSurfaceSide = 8192
	cfg.Overlay.CacheTTL = 10 * time.Minute
	cfg.Overlay.CacheEntries = 32
	cfg.Overlay.Card.BrandColor = "#3b82f6"
	cfg.Overlay.Card.TextColor = "#ffffff"
	cfg.Overlay.Card.CardHeight = 280

	cfg.Session.Name = "TestOne"
	cfg.Session.Role = 1

	cfg.Credential.TTL = 2 * time.Hour

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "overlaycast:overlays"
	cfg.Redis.BreakerThreshold = 5
	cfg.Redis.BreakerTimeout = 30 * time.Second
	cfg.Redis.RegistryTTL = time.Minute

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Retry.MaxAttempts = 2
	cfg.Retry.InitialDelay = 50 * time.Millisecond
	cfg.Retry.MaxDelay = time.Second

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 20
	cfg.RateLimiting.HTTP.Burst = 40
	cfg.RateLimiting.HTTP.MaxConcurrent = 64
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 10
	cfg.RateLimiting.WebSocket.Burst = 20
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 16 << 20

	return cfg
}

// LayoutName resolves the effective layout policy name.
func (c *Config) LayoutName() string {
	if c.Compositor.Layout != "" {
		return c.Compositor.Layout
	}
	if c.Overlay.Mode == "card" {
		return "bottom-bar"
	}
	return "centered-overlay"
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("OVERLAYCAST_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("OVERLAYCAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if layout := os.Getenv("OVERLAYCAST_LAYOUT"); layout != "" {
		c.Compositor.Layout = layout
	}
	if fps, err := strconv.Atoi(os.Getenv("OVERLAYCAST_SOURCE_FPS")); err == nil && fps > 0 {
		c.Source.FPS = fps
	}
	if key := os.Getenv("SDK_KEY"); key != "" {
		c.Credential.SDKKey = key
	}
	if secret := os.Getenv("SDK_SECRET"); secret != "" {
		c.Credential.SDKSecret = secret
	}
}
