package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vodstream/models"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server     ServerSettings     `json:"server"`
	Sites      []models.Site      `json:"sites"`
	VipFlags   []string           `json:"vipFlags,omitempty"` // play flags handed to spiders for premium sources
	Engine     EngineSettings     `json:"engine"`
	Cache      CacheSettings      `json:"cache"`
	Aggregator AggregatorSettings `json:"aggregator"`
	Log        LogConfig          `json:"log"`

	ScheduledTasks ScheduledTasksSettings `json:"scheduledTasks"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// EngineSettings tunes backend selection and the reliability wrapper.
type EngineSettings struct {
	SiteTimeoutSeconds      int     `json:"siteTimeoutSeconds"`      // per-site call timeout
	DegradedTimeoutSeconds  int     `json:"degradedTimeoutSeconds"`  // shortened timeout for degraded sites
	InitRetryCooldownMin    int     `json:"initRetryCooldownMin"`    // backend init failure cool-down
	MaxRetries              int     `json:"maxRetries"`              // transient error retries
	RetryBaseMillis         int     `json:"retryBaseMillis"`         // first backoff delay
	SlowCallThresholdMillis int     `json:"slowCallThresholdMillis"` // flag calls slower than this
	PerSitePermits          int     `json:"perSitePermits"`          // concurrent calls per upstream
	PerSiteRatePerSec       float64 `json:"perSiteRatePerSec"`       // upstream request rate cap
	DegradedErrorRate       float64 `json:"degradedErrorRate"`       // error rate tripping degraded state
	HealthWindow            int     `json:"healthWindow"`            // rolling window size (calls)
}

// CacheSettings tunes the tiered result cache.
type CacheSettings struct {
	Directory       string `json:"directory"`
	MemoryMaxItems  int    `json:"memoryMaxItems"`
	MemoryMaxBytes  int64  `json:"memoryMaxBytes"`
	ListingTTLMin   int    `json:"listingTtlMin"` // home/category/search
	DetailTTLMin    int    `json:"detailTtlMin"`  // detail pages
	PlayerTTLSec    int    `json:"playerTtlSec"`  // play urls expire fast
	DiskTierEnabled bool   `json:"diskTierEnabled"`
}

// AggregatorSettings tunes multi-site search fan-out.
type AggregatorSettings struct {
	Workers             int `json:"workers"`             // 0 = derive from CPU count
	QueryDeadlineSec    int `json:"queryDeadlineSec"`    // global search deadline
	QuickTimeoutSeconds int `json:"quickTimeoutSeconds"` // per-site timeout for quick search
}

// ScheduledTaskType identifies what a background task does.
type ScheduledTaskType string

const (
	// ScheduledTaskTypeCacheSweep drops expired result-cache entries. The
	// memory tier evicts lazily on read, so without the sweep the disk tier
	// keeps dead files around forever.
	ScheduledTaskTypeCacheSweep ScheduledTaskType = "cache_sweep"
	// ScheduledTaskTypeSiteProbe resolves each site's home listing to catch
	// dead upstreams before a user does.
	ScheduledTaskTypeSiteProbe ScheduledTaskType = "site_probe"
)

// ScheduledTaskFrequency is how often a task runs.
type ScheduledTaskFrequency string

const (
	ScheduledTaskFrequency5Min    ScheduledTaskFrequency = "5m"
	ScheduledTaskFrequency15Min   ScheduledTaskFrequency = "15m"
	ScheduledTaskFrequency30Min   ScheduledTaskFrequency = "30m"
	ScheduledTaskFrequencyHourly  ScheduledTaskFrequency = "1h"
	ScheduledTaskFrequency6Hours  ScheduledTaskFrequency = "6h"
	ScheduledTaskFrequency12Hours ScheduledTaskFrequency = "12h"
	ScheduledTaskFrequencyDaily   ScheduledTaskFrequency = "24h"
)

// ScheduledTaskStatus is the outcome of a task's last run.
type ScheduledTaskStatus string

const (
	ScheduledTaskStatusPending ScheduledTaskStatus = "pending"
	ScheduledTaskStatusRunning ScheduledTaskStatus = "running"
	ScheduledTaskStatusSuccess ScheduledTaskStatus = "success"
	ScheduledTaskStatusError   ScheduledTaskStatus = "error"
)

// ScheduledTask is one recurring maintenance task. Run state is persisted to
// the settings file so restarts don't reset schedules.
type ScheduledTask struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Type         ScheduledTaskType      `json:"type"`
	Frequency    ScheduledTaskFrequency `json:"frequency"`
	Config       map[string]string      `json:"config,omitempty"`
	Enabled      bool                   `json:"enabled"`
	LastRunAt    *time.Time             `json:"lastRunAt,omitempty"`
	LastStatus   ScheduledTaskStatus    `json:"lastStatus,omitempty"`
	LastError    string                 `json:"lastError,omitempty"`
	ItemsHandled int                    `json:"itemsHandled,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// ScheduledTasksSettings configures the background task runner.
type ScheduledTasksSettings struct {
	CheckIntervalSeconds int             `json:"checkIntervalSeconds"`
	Tasks                []ScheduledTask `json:"tasks"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	File       string `json:"file"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// DefaultSettings returns the configuration written on first start.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{Host: "0.0.0.0", Port: 7007},
		Sites:  []models.Site{},
		Engine: EngineSettings{
			SiteTimeoutSeconds:      15,
			DegradedTimeoutSeconds:  5,
			InitRetryCooldownMin:    5,
			MaxRetries:              3,
			RetryBaseMillis:         250,
			SlowCallThresholdMillis: 5000,
			PerSitePermits:          3,
			PerSiteRatePerSec:       5,
			DegradedErrorRate:       0.5,
			HealthWindow:            20,
		},
		Cache: CacheSettings{
			Directory:       filepath.Join("cache", "results"),
			MemoryMaxItems:  512,
			MemoryMaxBytes:  32 << 20,
			ListingTTLMin:   5,
			DetailTTLMin:    30,
			PlayerTTLSec:    30,
			DiskTierEnabled: true,
		},
		Aggregator: AggregatorSettings{
			Workers:             0,
			QueryDeadlineSec:    30,
			QuickTimeoutSeconds: 5,
		},
		Log: LogConfig{MaxSize: 10, MaxAge: 7, MaxBackups: 3},
		ScheduledTasks: ScheduledTasksSettings{
			CheckIntervalSeconds: 60,
			Tasks: []ScheduledTask{
				{
					ID:        "cache-sweep",
					Name:      "Result cache sweep",
					Type:      ScheduledTaskTypeCacheSweep,
					Frequency: ScheduledTaskFrequencyHourly,
					Enabled:   true,
					CreatedAt: time.Now().UTC(),
				},
			},
		},
	}
}

// SiteTimeout returns the effective per-site timeout, honoring overrides.
func (s Settings) SiteTimeout(site models.Site) time.Duration {
	if site.TimeoutSeconds > 0 {
		return time.Duration(site.TimeoutSeconds) * time.Second
	}
	if s.Engine.SiteTimeoutSeconds > 0 {
		return time.Duration(s.Engine.SiteTimeoutSeconds) * time.Second
	}
	return 15 * time.Second
}

// Site looks up a configured site by key.
func (s Settings) Site(key string) (models.Site, bool) {
	for _, site := range s.Sites {
		if site.Key == key {
			return site, true
		}
	}
	return models.Site{}, false
}

// Manager owns the settings file on disk.
type Manager struct {
	path string
	mu   sync.Mutex
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// EnsureDir ensures the parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads the settings file from disk or creates defaults if missing.
func (m *Manager) Load() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return Settings{}, err
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, err
	}
	applyFallbacks(&settings)
	return settings, nil
}

// Save persists settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(s)
}

func (m *Manager) save(s Settings) error {
	dir := filepath.Dir(m.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

// applyFallbacks fills zero values from defaults so hand-edited configs
// missing newer fields keep working.
func applyFallbacks(s *Settings) {
	def := DefaultSettings()
	if s.Engine.SiteTimeoutSeconds <= 0 {
		s.Engine.SiteTimeoutSeconds = def.Engine.SiteTimeoutSeconds
	}
	if s.Engine.DegradedTimeoutSeconds <= 0 {
		s.Engine.DegradedTimeoutSeconds = def.Engine.DegradedTimeoutSeconds
	}
	if s.Engine.InitRetryCooldownMin <= 0 {
		s.Engine.InitRetryCooldownMin = def.Engine.InitRetryCooldownMin
	}
	if s.Engine.MaxRetries <= 0 {
		s.Engine.MaxRetries = def.Engine.MaxRetries
	}
	if s.Engine.RetryBaseMillis <= 0 {
		s.Engine.RetryBaseMillis = def.Engine.RetryBaseMillis
	}
	if s.Engine.SlowCallThresholdMillis <= 0 {
		s.Engine.SlowCallThresholdMillis = def.Engine.SlowCallThresholdMillis
	}
	if s.Engine.PerSitePermits <= 0 {
		s.Engine.PerSitePermits = def.Engine.PerSitePermits
	}
	if s.Engine.PerSiteRatePerSec <= 0 {
		s.Engine.PerSiteRatePerSec = def.Engine.PerSiteRatePerSec
	}
	if s.Engine.DegradedErrorRate <= 0 {
		s.Engine.DegradedErrorRate = def.Engine.DegradedErrorRate
	}
	if s.Engine.HealthWindow <= 0 {
		s.Engine.HealthWindow = def.Engine.HealthWindow
	}
	if s.Cache.Directory == "" {
		s.Cache.Directory = def.Cache.Directory
	}
	if s.Cache.MemoryMaxItems <= 0 {
		s.Cache.MemoryMaxItems = def.Cache.MemoryMaxItems
	}
	if s.Cache.MemoryMaxBytes <= 0 {
		s.Cache.MemoryMaxBytes = def.Cache.MemoryMaxBytes
	}
	if s.Cache.ListingTTLMin <= 0 {
		s.Cache.ListingTTLMin = def.Cache.ListingTTLMin
	}
	if s.Cache.DetailTTLMin <= 0 {
		s.Cache.DetailTTLMin = def.Cache.DetailTTLMin
	}
	if s.Cache.PlayerTTLSec <= 0 {
		s.Cache.PlayerTTLSec = def.Cache.PlayerTTLSec
	}
	if s.Aggregator.QueryDeadlineSec <= 0 {
		s.Aggregator.QueryDeadlineSec = def.Aggregator.QueryDeadlineSec
	}
	if s.Aggregator.QuickTimeoutSeconds <= 0 {
		s.Aggregator.QuickTimeoutSeconds = def.Aggregator.QuickTimeoutSeconds
	}
	if s.ScheduledTasks.CheckIntervalSeconds <= 0 {
		s.ScheduledTasks.CheckIntervalSeconds = def.ScheduledTasks.CheckIntervalSeconds
	}
}
