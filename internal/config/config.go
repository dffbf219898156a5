package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Supported transfer engines.
const (
	EngineAnacrolix = "anacrolix"
	EnginePutio     = "putio"
	EngineDeluge    = "deluge"
)

// Config struct for environment variables.
type Config struct {
	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Catalog struct {
		BaseURL string        `split_words:"true" default:"https://yts.mx/api/v2"`
		SortBy  string        `split_words:"true" default:"download_count"`
		Timeout time.Duration `split_words:"true" default:"30s"`
	}

	Transfer struct {
		Engine      string        `split_words:"true" default:"anacrolix"`
		Overwrite   bool          `split_words:"true" default:"true"`
		InfoTimeout time.Duration `split_words:"true" default:"5m"`
		ListenPort  int           `split_words:"true" default:"42069"`
		NoDHT       bool          `envconfig:"NO_DHT" default:"false"`
	}

	DownloadRoot     string        `envconfig:"DOWNLOAD_ROOT" default:"downloads"`
	ProgressInterval time.Duration `envconfig:"PROGRESS_INTERVAL" default:"1s"`
	Trackers         []string      `envconfig:"TRACKERS"`

	VideoExtensions    []string `envconfig:"VIDEO_EXTENSIONS" default:"mp4,mkv,avi,flv,wmv,mov"`
	SubtitleExtensions []string `envconfig:"SUBTITLE_EXTENSIONS" default:"srt"`

	Curate struct {
		TiebreakVideoOnly bool `split_words:"true" default:"false"`
	}

	Putio struct {
		BaseURL      string        `split_words:"true"`
		Token        string        `split_words:"true"`
		PollInterval time.Duration `split_words:"true" default:"5s"`
		MaxParallel  int           `split_words:"true" default:"4"`
	}

	Deluge struct {
		BaseURL      string        `split_words:"true"`
		APIPath      string        `split_words:"true" default:"/json"`
		Username     string        `split_words:"true"`
		Password     string        `split_words:"true"`
		Insecure     bool          `split_words:"true" default:"false"`
		PollInterval time.Duration `split_words:"true" default:"5s"`
		MaxParallel  int           `split_words:"true" default:"4"`
	}

	Player struct {
		Binary       string        `split_words:"true" default:"mpv"`
		PollInterval time.Duration `split_words:"true" default:"100ms"`
		StartTimeout time.Duration `split_words:"true" default:"10s"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"false"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"5s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the combinations envconfig cannot express with tags.
func (c *Config) Validate() error {
	var errs []error

	switch c.Transfer.Engine {
	case EngineAnacrolix:
	case EnginePutio:
		if c.Putio.Token == "" {
			errs = append(errs, errors.New("PUTIO_TOKEN is required when TRANSFER_ENGINE is putio"))
		}
	case EngineDeluge:
		if c.Deluge.BaseURL == "" {
			errs = append(errs, errors.New("DELUGE_BASE_URL is required when TRANSFER_ENGINE is deluge"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported TRANSFER_ENGINE %q", c.Transfer.Engine))
	}

	if c.DownloadRoot == "" {
		errs = append(errs, errors.New("DOWNLOAD_ROOT must not be empty"))
	}

	if c.ProgressInterval <= 0 {
		errs = append(errs, errors.New("PROGRESS_INTERVAL must be positive"))
	}

	if c.Player.PollInterval <= 0 {
		errs = append(errs, errors.New("PLAYER_POLL_INTERVAL must be positive"))
	}

	if len(c.VideoExtensions) == 0 {
		errs = append(errs, errors.New("VIDEO_EXTENSIONS must not be empty"))
	}

	return errors.Join(errs...)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
