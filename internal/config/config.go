package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "VOCABSYNC"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "vocabsync.db"
	defaultLogLevel        = "info"
	defaultAuthIssuer      = "vocabsync"
	defaultCookieName      = "vocabsync_session"
	defaultTokenTTL        = 24 * time.Hour
	defaultLocalPath       = "vocabsync-device.db"
	defaultClientTimeout   = 15 * time.Second
	defaultPushDelay       = 1200 * time.Millisecond
	defaultSyncPolicy      = "tombstone"
	defaultCacheMaxKeys    = 10000
	defaultRemoteURL       = "http://127.0.0.1:8080"
	minimumSigningKeyBytes = 16
)

// ServerConfig captures runtime configuration for the cloud API.
type ServerConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	LogFile       string
	SigningSecret string
	Issuer        string
	CookieName    string
	TokenTTL      time.Duration
	CacheMaxKeys  int64
}

// ClientConfig captures runtime configuration for the sync client.
type ClientConfig struct {
	RemoteURL string
	Token     string
	UserID    string
	LocalPath string
	Timeout   time.Duration
	PushDelay time.Duration
	Policy    string
	LogLevel  string
	LogFile   string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("cache.max_keys", defaultCacheMaxKeys)
	configViper.SetDefault("client.remote_url", defaultRemoteURL)
	configViper.SetDefault("client.token", "")
	configViper.SetDefault("client.user_id", "")
	configViper.SetDefault("client.local_path", defaultLocalPath)
	configViper.SetDefault("client.timeout", defaultClientTimeout)
	configViper.SetDefault("sync.push_delay", defaultPushDelay)
	configViper.SetDefault("sync.policy", defaultSyncPolicy)
}

// LoadServer parses the cloud API configuration from viper.
func LoadServer(configViper *viper.Viper) (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddress:   strings.TrimSpace(configViper.GetString("http.address")),
		DatabasePath:  strings.TrimSpace(configViper.GetString("database.path")),
		LogLevel:      configViper.GetString("log.level"),
		LogFile:       strings.TrimSpace(configViper.GetString("log.file")),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		Issuer:        strings.TrimSpace(configViper.GetString("auth.issuer")),
		CookieName:    strings.TrimSpace(configViper.GetString("auth.cookie_name")),
		TokenTTL:      configViper.GetDuration("auth.token_ttl"),
		CacheMaxKeys:  configViper.GetInt64("cache.max_keys"),
	}

	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}

	return cfg, nil
}

// LoadClient parses the sync client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		RemoteURL: strings.TrimSpace(configViper.GetString("client.remote_url")),
		Token:     strings.TrimSpace(configViper.GetString("client.token")),
		UserID:    strings.TrimSpace(configViper.GetString("client.user_id")),
		LocalPath: strings.TrimSpace(configViper.GetString("client.local_path")),
		Timeout:   configViper.GetDuration("client.timeout"),
		PushDelay: configViper.GetDuration("sync.push_delay"),
		Policy:    strings.TrimSpace(configViper.GetString("sync.policy")),
		LogLevel:  configViper.GetString("log.level"),
		LogFile:   strings.TrimSpace(configViper.GetString("log.file")),
	}

	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}

	return cfg, nil
}

func (c ServerConfig) validate() error {
	if len(strings.TrimSpace(c.SigningSecret)) < minimumSigningKeyBytes {
		return fmt.Errorf("auth.signing_secret must be at least %d bytes", minimumSigningKeyBytes)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.HTTPAddress == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.Issuer == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if c.CookieName == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	return nil
}

func (c ClientConfig) validate() error {
	if c.RemoteURL == "" {
		return fmt.Errorf("client.remote_url is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("client.user_id is required")
	}
	if c.LocalPath == "" {
		return fmt.Errorf("client.local_path is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("client.timeout must be positive")
	}
	if c.PushDelay < 0 {
		return fmt.Errorf("sync.push_delay must not be negative")
	}
	switch c.Policy {
	case "tombstone", "union":
	default:
		return fmt.Errorf("sync.policy must be tombstone or union, got %q", c.Policy)
	}
	return nil
}
