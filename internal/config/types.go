package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the whole on-disk configuration. JSON and YAML are both accepted;
// YAML is coerced to JSON so one strict decoder handles both formats.
//
// All durations are Go duration strings (e.g. "10s", "1m", "30m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Watch     WatchConfig     `json:"watch,omitempty"`
	FileServe FileServeConfig `json:"fileserve,omitempty"`
	Control   ControlConfig   `json:"control,omitempty"`
	Instagram InstagramConfig `json:"instagram"`
	Posting   PostingConfig   `json:"posting"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
	Notify    NotifyConfig    `json:"notify,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console,omitempty"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// WatchConfig controls discovery of new media files.
// If Folder is empty the watcher is disabled.
type WatchConfig struct {
	Folder string `json:"folder,omitempty"`
	// Extensions defaults to [".mp4", ".mov", ".mkv"].
	Extensions []string `json:"extensions,omitempty"`
}

// FileServeConfig controls the local server that exposes media files to the
// Graph API by URL. Addr must be reachable from Instagram's fetchers in real
// deployments; the default binds loopback, which only works behind a tunnel.
type FileServeConfig struct {
	Addr string `json:"addr,omitempty"` // default "127.0.0.1:8728"
	Dir  string `json:"dir,omitempty"`  // spool dir; default <storage dir>/uploads
	// BaseURL overrides the advertised URL prefix (e.g. a public tunnel URL).
	BaseURL string `json:"base_url,omitempty"`
}

// ControlConfig controls the local admin HTTP surface used by frontends.
type ControlConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8729"
}

type InstagramConfig struct {
	// UserID is the Instagram business account id posts are created under.
	UserID string `json:"user_id,omitempty"`
	// APIBase defaults to the Graph API v21.0 endpoint.
	APIBase string `json:"api_base,omitempty"`
	// Timeout bounds each HTTP call. Default "5m" (container creation can be slow).
	Timeout string `json:"timeout,omitempty"`
	// RatePerSec caps outgoing Graph API calls. 0 disables the limiter.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type PostingConfig struct {
	// MaxPostsPerDay is the daily publication quota. 0 disables auto-posting.
	MaxPostsPerDay int `json:"max_posts_per_day"`
	// Timezone is the IANA zone the daily quota window is computed in.
	// Empty or invalid falls back to UTC.
	Timezone string `json:"timezone,omitempty"`
	// TickInterval is how often due items are checked. Default "1m".
	TickInterval string `json:"tick_interval,omitempty"`
	// PollInterval is the wait between container status polls. Default "10s".
	PollInterval string `json:"poll_interval,omitempty"`
	// PollMaxWait caps one container's processing wait. Default "10m".
	PollMaxWait string `json:"poll_max_wait,omitempty"`
}

type MetricsConfig struct {
	// RefreshInterval is how often engagement counters are re-read. Default "30m".
	RefreshInterval string `json:"refresh_interval,omitempty"`
}

// NotifyConfig enables Telegram announcements of publish results.
type NotifyConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty"`
}

const (
	DefaultAPIBase         = "https://graph.facebook.com/v21.0"
	DefaultTickInterval    = time.Minute
	DefaultPollInterval    = 10 * time.Second
	DefaultPollMaxWait     = 10 * time.Minute
	DefaultRefreshInterval = 30 * time.Minute
	DefaultFileServeAddr   = "127.0.0.1:8728"
	DefaultControlAddr     = "127.0.0.1:8729"
)

// Validate checks the parts that must be rejected at load time.
// Timezone is deliberately not fatal here: an invalid zone falls back to UTC
// at use sites so a typo cannot take the daemon down on reload.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if cfg.Posting.MaxPostsPerDay < 0 {
		return fmt.Errorf("posting.max_posts_per_day must be >= 0")
	}
	for path, raw := range map[string]string{
		"storage.busy_timeout":     cfg.Storage.BusyTimeout,
		"instagram.timeout":        cfg.Instagram.Timeout,
		"posting.tick_interval":    cfg.Posting.TickInterval,
		"posting.poll_interval":    cfg.Posting.PollInterval,
		"posting.poll_max_wait":    cfg.Posting.PollMaxWait,
		"metrics.refresh_interval": cfg.Metrics.RefreshInterval,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if cfg.Notify.Enabled && strings.TrimSpace(cfg.Notify.Token) == "" {
		return fmt.Errorf("notify.token is required when notify.enabled")
	}
	return nil
}

// TickInterval returns the parsed post tick interval.
func (p PostingConfig) TickIntervalOrDefault() time.Duration {
	d, err := ParseDurationField("posting.tick_interval", p.TickInterval)
	if err != nil || d <= 0 {
		return DefaultTickInterval
	}
	return d
}

func (p PostingConfig) PollIntervalOrDefault() time.Duration {
	d, err := ParseDurationField("posting.poll_interval", p.PollInterval)
	if err != nil || d <= 0 {
		return DefaultPollInterval
	}
	return d
}

func (p PostingConfig) PollMaxWaitOrDefault() time.Duration {
	d, err := ParseDurationField("posting.poll_max_wait", p.PollMaxWait)
	if err != nil || d <= 0 {
		return DefaultPollMaxWait
	}
	return d
}

// Location resolves the quota timezone, falling back to UTC when the
// configured zone is absent or invalid.
func (p PostingConfig) Location() *time.Location {
	tz := strings.TrimSpace(p.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (m MetricsConfig) RefreshIntervalOrDefault() time.Duration {
	d, err := ParseDurationField("metrics.refresh_interval", m.RefreshInterval)
	if err != nil || d <= 0 {
		return DefaultRefreshInterval
	}
	return d
}
