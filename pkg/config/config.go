// Package config handles application configuration via viper.
//
// Settings come from, in order of precedence: environment variables with the
// KUMO_ prefix (KUMO_SERVER_PORT, KUMO_LOG_LEVEL, ...), an optional
// kumo-stream.yaml in the working directory, and built-in defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Proxy    ProxyConfig
	History  HistoryConfig
	Metadata MetadataConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int
	BaseURL      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// ProxyConfig holds streaming proxy settings.
type ProxyConfig struct {
	// UserAgent is sent on every upstream fetch. Media hosts reject
	// obviously non-browser agents, so the default is a desktop Chrome.
	UserAgent string
	// Upstream optionally routes all outbound fetches through a forward
	// proxy (http://, https://, socks5:// or socks5h:// URL).
	Upstream string
	// ImpersonateHosts lists substrings of hosts that require a
	// browser-like TLS fingerprint (Cloudflare-fronted CDNs).
	ImpersonateHosts []string
	// FetchTimeout bounds a single upstream request.
	FetchTimeout time.Duration
}

// HistoryConfig holds watch-history store settings.
type HistoryConfig struct {
	// Path is the sqlite database file. ":memory:" keeps history for the
	// lifetime of the process only.
	Path string
	// Limit caps how many titles are retained, most recent first.
	Limit int
}

// MetadataConfig holds upstream metadata API settings.
type MetadataConfig struct {
	BaseURL string
	Timeout time.Duration
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment and an optional config file.
func Load() (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("KUMO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	v.SetConfigName("kumo-stream")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	port := v.GetInt("server.port")
	baseURL := v.GetString("server.base_url")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", port)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         port,
			BaseURL:      baseURL,
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
			IdleTimeout:  v.GetDuration("server.idle_timeout"),
		},
		Proxy: ProxyConfig{
			UserAgent:        v.GetString("proxy.user_agent"),
			Upstream:         v.GetString("proxy.upstream"),
			ImpersonateHosts: v.GetStringSlice("proxy.impersonate_hosts"),
			FetchTimeout:     v.GetDuration("proxy.fetch_timeout"),
		},
		History: HistoryConfig{
			Path:  v.GetString("history.path"),
			Limit: v.GetInt("history.limit"),
		},
		Metadata: MetadataConfig{
			BaseURL: v.GetString("metadata.base_url"),
			Timeout: v.GetDuration("metadata.timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8880)
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.read_timeout", 30*time.Second)
	// Long write timeout: manifest relays for live streams can be slow to drain.
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("proxy.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("proxy.upstream", "")
	v.SetDefault("proxy.impersonate_hosts", []string{})
	v.SetDefault("proxy.fetch_timeout", 30*time.Second)

	v.SetDefault("history.path", "kumo-history.db")
	v.SetDefault("history.limit", 20)

	v.SetDefault("metadata.base_url", "")
	v.SetDefault("metadata.timeout", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
