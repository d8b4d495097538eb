package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server         ServerConfig    `yaml:"server"`
	Queue          QueueConfig     `yaml:"queue"`
	Downloads      DownloadsConfig `yaml:"downloads"`
	Logging        LoggingConfig   `yaml:"logging"`
	Paths          PathsConfig     `yaml:"paths"`
	Authentication AuthConfig      `yaml:"authentication"`
	OpenId         OpenIdConfig    `yaml:"openid"`
	AutoArchive    bool            `yaml:"auto_archive"`
	path           string
}

type ServerConfig struct {
	BaseURL string `yaml:"base_url"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type QueueConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	SessionPath    string        `yaml:"session_path"`
}

type DownloadsConfig struct {
	DirectRetries int           `yaml:"direct_retries"`
	MediaRetries  int           `yaml:"media_retries"`
	RetryCooldown time.Duration `yaml:"retry_cooldown"`
	RetryExponent float64       `yaml:"retry_exponent"`
	LivenessGrace time.Duration `yaml:"liveness_grace"`
	UserAgent     string        `yaml:"user_agent"`
}

type LoggingConfig struct {
	LogPath           string `yaml:"log_path"`
	EnableFileLogging bool   `yaml:"enable_file_logging"`
}

type PathsConfig struct {
	DownloadPath      string `yaml:"download_path"`
	ResolverPath      string `yaml:"resolver_path"`
	FFmpegPath        string `yaml:"ffmpeg_path"`
	TempPath          string `yaml:"temp_path"`
	LocalDatabasePath string `yaml:"local_database_path"`
}

type AuthConfig struct {
	RequireAuth  bool   `yaml:"require_auth"`
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password"`
}

type OpenIdConfig struct {
	UseOpenId      bool     `yaml:"use_openid"`
	ProviderURL    string   `yaml:"openid_provider_url"`
	ClientId       string   `yaml:"openid_client_id"`
	ClientSecret   string   `yaml:"openid_client_secret"`
	RedirectURL    string   `yaml:"openid_redirect_url"`
	EmailWhitelist []string `yaml:"openid_email_whitelist"`
}

var (
	instance     *Config
	instanceOnce sync.Once
)

func Instance() *Config {
	if instance == nil {
		instanceOnce.Do(func() {
			instance = defaults()
		})
	}
	return instance
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3033,
		},
		Queue: QueueConfig{
			MaxConcurrency: 2,
			PollInterval:   time.Second,
			SessionPath:    "session.dat",
		},
		Downloads: DownloadsConfig{
			DirectRetries: 3,
			MediaRetries:  3,
			RetryCooldown: time.Second,
			RetryExponent: 2,
			LivenessGrace: 30 * time.Second,
		},
		Logging: LoggingConfig{
			LogPath: "justdownloadit.log",
		},
		Paths: PathsConfig{
			DownloadPath:      ".",
			ResolverPath:      "yt-dlp",
			FFmpegPath:        "ffmpeg",
			LocalDatabasePath: "local.db",
		},
	}
}

// Load reads the YAML file at path over the defaults and installs the
// result as the singleton. A missing file leaves the defaults.
func Load(path string) error {
	cfg := Instance()
	*cfg = *defaults()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if cfg.Queue.MaxConcurrency <= 0 {
		cfg.Queue.MaxConcurrency = 2
	}
	if cfg.Queue.PollInterval <= 0 {
		cfg.Queue.PollInterval = time.Second
	}
	return nil
}

// Path of the directory containing the config file
func (c *Config) Dir() string { return filepath.Dir(c.path) }

// Absolute path of the config file
func (c *Config) Path() string { return c.path }
