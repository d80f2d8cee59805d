package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/attendance-io/station-agent/internal/connectivity"
	"github.com/attendance-io/station-agent/internal/intake"
	"github.com/attendance-io/station-agent/internal/scan"
	"github.com/attendance-io/station-agent/internal/scheduler"
	"github.com/attendance-io/station-agent/internal/sync"
)

// Sentinel errors — missing required values are fatal (spec.md §6).
var (
	ErrCloudURLRequired    = errors.New("config: CloudURL is required")
	ErrCloudKeyRequired    = errors.New("config: CloudKey is required")
	ErrStationNameRequired = errors.New("config: StationName is required")
)

// DefaultLogLevel is used when STATION_LOG_LEVEL is unset or unrecognized; config files do
// not set the log level.
const DefaultLogLevel = slog.LevelInfo

// Local API defaults (expansion: spec.md §6 does not name these, ambient HTTP-server
// concerns carried regardless, grounded on internal/api/config.go's Host/Port defaults).
const (
	DefaultLocalAPIAddr         = "127.0.0.1:8420"
	DefaultLocalAPIRateLimitRPS = 50
)

// AgentConfig is the full set of recognized options (spec.md §6), loaded at startup with
// precedence executable-directory config file → source-directory config file → process
// environment, grounded on internal/api/config.go's LoadServerConfig shape.
type AgentConfig struct {
	CloudURL string `yaml:"cloud_url"`
	CloudKey string `yaml:"cloud_key"`

	// StationName is this process's fixed identity (spec.md §3), set once at first launch
	// and persisted by internal/store.StationStore; on later starts cmd/agent refuses to
	// overwrite a persisted identity: a different configured value is logged and ignored.
	StationName string `yaml:"station_name"`

	DatabasePath string `yaml:"database_path"`

	BatchSize int `yaml:"batch_size"`

	// LocalAPIAddr is the bind address for the collaborator-facing local HTTP API
	// (spec.md §6). Loopback-only by convention and by internal/localapi/middleware's
	// LoopbackOnly defense in depth.
	LocalAPIAddr         string   `yaml:"local_api_addr"`
	LocalAPIRateLimitRPS int      `yaml:"local_api_rate_limit_rps"`
	LocalAPIOrigins      []string `yaml:"local_api_allowed_origins"`

	HealthInterval      time.Duration `yaml:"health_interval"`
	HealthTimeout       time.Duration `yaml:"health_timeout"`
	HealthInitialDelay  time.Duration `yaml:"health_initial_delay"`
	HysteresisThreshold int           `yaml:"hysteresis_threshold"`

	AutoSyncEnabled   bool          `yaml:"auto_sync_enabled"`
	IdleSeconds       time.Duration `yaml:"idle_seconds"`
	CheckInterval     time.Duration `yaml:"check_interval"`
	MinPending        int64         `yaml:"min_pending"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`

	RetryEnabled           bool          `yaml:"retry_enabled"`
	RetryMaxAttempts       int           `yaml:"retry_max_attempts"`
	RetryBackoffSeconds    time.Duration `yaml:"retry_backoff_seconds"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	FailureCooldownSeconds time.Duration `yaml:"failure_cooldown_seconds"`

	DuplicateDetectionEnabled bool                   `yaml:"duplicate_detection_enabled"`
	DuplicateWindowSeconds    time.Duration          `yaml:"duplicate_window_seconds"`
	DuplicateAction           intake.DuplicatePolicy `yaml:"duplicate_action"`

	// AdminPINHash is a bcrypt hash gating reset_station_and_purge (spec.md §6). Empty means
	// the operation is disabled (refused unconditionally), since an unset PIN must never be
	// satisfied by an empty submitted PIN.
	AdminPINHash string `yaml:"admin_pin_hash"`

	LogLevel slog.Level `yaml:"-"`
}

// fileLayer is the subset of AgentConfig a YAML config file is allowed to override; a
// pointer-field mirror lets "unset in this file" be distinguished from "explicitly zero".
type fileLayer struct {
	CloudURL    *string `yaml:"cloud_url"`
	CloudKey    *string `yaml:"cloud_key"`
	StationName *string `yaml:"station_name"`

	DatabasePath *string `yaml:"database_path"`

	BatchSize *int `yaml:"batch_size"`

	LocalAPIAddr         *string  `yaml:"local_api_addr"`
	LocalAPIRateLimitRPS *int     `yaml:"local_api_rate_limit_rps"`
	LocalAPIOrigins      []string `yaml:"local_api_allowed_origins"`

	HealthInterval      *time.Duration `yaml:"health_interval"`
	HealthTimeout       *time.Duration `yaml:"health_timeout"`
	HealthInitialDelay  *time.Duration `yaml:"health_initial_delay"`
	HysteresisThreshold *int           `yaml:"hysteresis_threshold"`

	AutoSyncEnabled   *bool          `yaml:"auto_sync_enabled"`
	IdleSeconds       *time.Duration `yaml:"idle_seconds"`
	CheckInterval     *time.Duration `yaml:"check_interval"`
	MinPending        *int64         `yaml:"min_pending"`
	ConnectionTimeout *time.Duration `yaml:"connection_timeout"`

	RetryEnabled           *bool          `yaml:"retry_enabled"`
	RetryMaxAttempts       *int           `yaml:"retry_max_attempts"`
	RetryBackoffSeconds    *time.Duration `yaml:"retry_backoff_seconds"`
	MaxConsecutiveFailures *int           `yaml:"max_consecutive_failures"`
	FailureCooldownSeconds *time.Duration `yaml:"failure_cooldown_seconds"`

	DuplicateDetectionEnabled *bool                   `yaml:"duplicate_detection_enabled"`
	DuplicateWindowSeconds    *time.Duration          `yaml:"duplicate_window_seconds"`
	DuplicateAction           *intake.DuplicatePolicy `yaml:"duplicate_action"`

	AdminPINHash *string `yaml:"admin_pin_hash"`
}

const configFileName = "station-agent.yaml"

// defaultAgentConfig seeds every tunable with SPEC_FULL.md's documented default (spec.md §6).
func defaultAgentConfig() AgentConfig {
	return AgentConfig{
		BatchSize: sync.DefaultBatchSize,

		LocalAPIAddr:         DefaultLocalAPIAddr,
		LocalAPIRateLimitRPS: DefaultLocalAPIRateLimitRPS,
		LocalAPIOrigins:      []string{},

		HealthInterval:      connectivity.DefaultInterval,
		HealthTimeout:       connectivity.DefaultProbeTimeout,
		HealthInitialDelay:  connectivity.DefaultInitialDelay,
		HysteresisThreshold: connectivity.DefaultFailureThreshold,

		AutoSyncEnabled:   true,
		IdleSeconds:       scheduler.DefaultIdleThreshold,
		CheckInterval:     scheduler.DefaultCheckInterval,
		MinPending:        scheduler.DefaultMinPending,
		ConnectionTimeout: sync.DefaultConnTimeout,

		RetryEnabled:           true,
		RetryMaxAttempts:       sync.DefaultRetryMax,
		RetryBackoffSeconds:    sync.DefaultRetryBase,
		MaxConsecutiveFailures: sync.DefaultFailureMax,
		FailureCooldownSeconds: sync.DefaultCooldown,

		DuplicateDetectionEnabled: true,
		DuplicateWindowSeconds:    60 * time.Second,
		DuplicateAction:           intake.PolicyBlock,

		LogLevel: DefaultLogLevel,
	}
}

// Load builds the AgentConfig following spec.md §6's precedence: executable-directory
// config file → source-directory config file → process environment. Each layer that
// exists overlays the previous; clamping and fatal-required-value enforcement happen last,
// exactly once, regardless of which layer supplied the value.
func Load(execDir, sourceDir string) (AgentConfig, []string, error) {
	cfg := defaultAgentConfig()

	var warnings []string

	for _, dir := range []string{execDir, sourceDir} {
		if dir == "" {
			continue
		}

		path := filepath.Join(dir, configFileName)

		layer, ok, err := loadFileLayer(path)
		if err != nil {
			return AgentConfig{}, nil, err
		}

		if ok {
			applyLayer(&cfg, layer)
		}
	}

	applyEnv(&cfg)

	warnings = append(warnings, clamp(&cfg)...)

	if cfg.CloudURL == "" {
		return AgentConfig{}, warnings, ErrCloudURLRequired
	}

	if cfg.CloudKey == "" {
		return AgentConfig{}, warnings, ErrCloudKeyRequired
	}

	if cfg.StationName == "" {
		return AgentConfig{}, warnings, ErrStationNameRequired
	}

	if err := scan.ValidateStationName(cfg.StationName); err != nil {
		return AgentConfig{}, warnings, fmt.Errorf("config: %w", err)
	}

	return cfg, warnings, nil
}

func loadFileLayer(path string) (fileLayer, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileLayer{}, false, nil
		}

		return fileLayer{}, false, fmt.Errorf("config: read %s: %w", path, err)
	}

	var layer fileLayer
	if err := yaml.Unmarshal(data, &layer); err != nil {
		return fileLayer{}, false, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return layer, true, nil
}

func applyLayer(cfg *AgentConfig, layer fileLayer) {
	setIfNotNil(&cfg.CloudURL, layer.CloudURL)
	setIfNotNil(&cfg.CloudKey, layer.CloudKey)
	setIfNotNil(&cfg.StationName, layer.StationName)
	setIfNotNil(&cfg.DatabasePath, layer.DatabasePath)
	setIfNotNil(&cfg.BatchSize, layer.BatchSize)
	setIfNotNil(&cfg.LocalAPIAddr, layer.LocalAPIAddr)
	setIfNotNil(&cfg.LocalAPIRateLimitRPS, layer.LocalAPIRateLimitRPS)

	if len(layer.LocalAPIOrigins) > 0 {
		cfg.LocalAPIOrigins = layer.LocalAPIOrigins
	}
	setIfNotNil(&cfg.HealthInterval, layer.HealthInterval)
	setIfNotNil(&cfg.HealthTimeout, layer.HealthTimeout)
	setIfNotNil(&cfg.HealthInitialDelay, layer.HealthInitialDelay)
	setIfNotNil(&cfg.HysteresisThreshold, layer.HysteresisThreshold)
	setIfNotNil(&cfg.AutoSyncEnabled, layer.AutoSyncEnabled)
	setIfNotNil(&cfg.IdleSeconds, layer.IdleSeconds)
	setIfNotNil(&cfg.CheckInterval, layer.CheckInterval)
	setIfNotNil(&cfg.MinPending, layer.MinPending)
	setIfNotNil(&cfg.ConnectionTimeout, layer.ConnectionTimeout)
	setIfNotNil(&cfg.RetryEnabled, layer.RetryEnabled)
	setIfNotNil(&cfg.RetryMaxAttempts, layer.RetryMaxAttempts)
	setIfNotNil(&cfg.RetryBackoffSeconds, layer.RetryBackoffSeconds)
	setIfNotNil(&cfg.MaxConsecutiveFailures, layer.MaxConsecutiveFailures)
	setIfNotNil(&cfg.FailureCooldownSeconds, layer.FailureCooldownSeconds)
	setIfNotNil(&cfg.DuplicateDetectionEnabled, layer.DuplicateDetectionEnabled)
	setIfNotNil(&cfg.DuplicateWindowSeconds, layer.DuplicateWindowSeconds)
	setIfNotNil(&cfg.DuplicateAction, layer.DuplicateAction)
	setIfNotNil(&cfg.AdminPINHash, layer.AdminPINHash)
}

func setIfNotNil[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func applyEnv(cfg *AgentConfig) {
	cfg.CloudURL = GetEnvStr("STATION_CLOUD_URL", cfg.CloudURL)
	cfg.CloudKey = GetEnvStr("STATION_CLOUD_KEY", cfg.CloudKey)
	cfg.StationName = GetEnvStr("STATION_NAME", cfg.StationName)
	cfg.DatabasePath = GetEnvStr("STATION_DB_PATH", cfg.DatabasePath)
	cfg.BatchSize = GetEnvInt("STATION_BATCH_SIZE", cfg.BatchSize)
	cfg.LocalAPIAddr = GetEnvStr("STATION_LOCAL_API_ADDR", cfg.LocalAPIAddr)
	cfg.LocalAPIRateLimitRPS = GetEnvInt("STATION_LOCAL_API_RATE_LIMIT_RPS", cfg.LocalAPIRateLimitRPS)

	if v := GetEnvStr("STATION_LOCAL_API_ALLOWED_ORIGINS", ""); v != "" {
		cfg.LocalAPIOrigins = ParseCommaSeparatedList(v)
	}

	cfg.HealthInterval = GetEnvDuration("STATION_HEALTH_INTERVAL", cfg.HealthInterval)
	cfg.HealthTimeout = GetEnvDuration("STATION_HEALTH_TIMEOUT", cfg.HealthTimeout)
	cfg.HealthInitialDelay = GetEnvDuration("STATION_HEALTH_INITIAL_DELAY", cfg.HealthInitialDelay)
	cfg.HysteresisThreshold = GetEnvInt("STATION_HYSTERESIS_THRESHOLD", cfg.HysteresisThreshold)

	cfg.AutoSyncEnabled = GetEnvBool("STATION_AUTO_SYNC_ENABLED", cfg.AutoSyncEnabled)
	cfg.IdleSeconds = GetEnvDuration("STATION_IDLE_SECONDS", cfg.IdleSeconds)
	cfg.CheckInterval = GetEnvDuration("STATION_CHECK_INTERVAL", cfg.CheckInterval)
	cfg.MinPending = GetEnvInt64("STATION_MIN_PENDING", cfg.MinPending)
	cfg.ConnectionTimeout = GetEnvDuration("STATION_CONNECTION_TIMEOUT", cfg.ConnectionTimeout)

	cfg.RetryEnabled = GetEnvBool("STATION_RETRY_ENABLED", cfg.RetryEnabled)
	cfg.RetryMaxAttempts = GetEnvInt("STATION_RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts)
	cfg.RetryBackoffSeconds = GetEnvDuration("STATION_RETRY_BACKOFF_SECONDS", cfg.RetryBackoffSeconds)
	cfg.MaxConsecutiveFailures = GetEnvInt("STATION_MAX_CONSECUTIVE_FAILURES", cfg.MaxConsecutiveFailures)
	cfg.FailureCooldownSeconds = GetEnvDuration("STATION_FAILURE_COOLDOWN_SECONDS", cfg.FailureCooldownSeconds)

	cfg.DuplicateDetectionEnabled = GetEnvBool("STATION_DUPLICATE_DETECTION_ENABLED", cfg.DuplicateDetectionEnabled)
	cfg.DuplicateWindowSeconds = GetEnvDuration("STATION_DUPLICATE_WINDOW_SECONDS", cfg.DuplicateWindowSeconds)
	cfg.DuplicateAction = intake.DuplicatePolicy(GetEnvStr("STATION_DUPLICATE_ACTION", string(cfg.DuplicateAction)))

	cfg.LogLevel = GetEnvLogLevel("STATION_LOG_LEVEL", cfg.LogLevel)

	cfg.AdminPINHash = GetEnvStr("STATION_ADMIN_PIN_HASH", cfg.AdminPINHash)
}

// clamp enforces spec.md §6's bounded ranges, clamping out-of-range values to the nearest
// bound and returning one warning string per clamped field ("Invalid values are clamped to
// range with a warning").
func clamp(cfg *AgentConfig) []string {
	var warnings []string

	clampInt(&cfg.BatchSize, 1, 1000, "BatchSize", &warnings)
	clampDuration(&cfg.HealthTimeout, 500*time.Millisecond, 30*time.Second, "HealthTimeout", &warnings)
	clampDurationMin(&cfg.HealthInitialDelay, 0, "HealthInitialDelay", &warnings)
	clampInt(&cfg.HysteresisThreshold, 1, 1<<30, "HysteresisThreshold", &warnings)

	clampDuration(&cfg.IdleSeconds, 5*time.Second, 3600*time.Second, "IdleSeconds", &warnings)
	clampDuration(&cfg.CheckInterval, 10*time.Second, 3600*time.Second, "CheckInterval", &warnings)
	clampInt64(&cfg.MinPending, 1, 10000, "MinPending", &warnings)
	clampDuration(&cfg.ConnectionTimeout, 1*time.Second, 30*time.Second, "ConnectionTimeout", &warnings)

	clampInt(&cfg.RetryMaxAttempts, 1, 10, "RetryMaxAttempts", &warnings)
	clampDuration(&cfg.RetryBackoffSeconds, 1*time.Second, 60*time.Second, "RetryBackoffSeconds", &warnings)
	clampInt(&cfg.MaxConsecutiveFailures, 1, 100, "MaxConsecutiveFailures", &warnings)
	clampDuration(&cfg.FailureCooldownSeconds, 30*time.Second, 3600*time.Second, "FailureCooldownSeconds", &warnings)

	clampDuration(&cfg.DuplicateWindowSeconds, 1*time.Second, 3600*time.Second, "DuplicateWindowSeconds", &warnings)

	if cfg.LocalAPIRateLimitRPS < 1 {
		warnings = append(warnings, fmt.Sprintf("LocalAPIRateLimitRPS %d below minimum 1, clamped", cfg.LocalAPIRateLimitRPS))
		cfg.LocalAPIRateLimitRPS = 1
	}

	switch cfg.DuplicateAction {
	case intake.PolicyBlock, intake.PolicyWarn, intake.PolicySilent:
	default:
		warnings = append(warnings, fmt.Sprintf("DuplicateAction %q invalid, defaulting to block", cfg.DuplicateAction))
		cfg.DuplicateAction = intake.PolicyBlock
	}

	return warnings
}

func clampInt(v *int, lo, hi int, name string, warnings *[]string) {
	if *v < lo {
		*warnings = append(*warnings, fmt.Sprintf("%s %d below minimum %d, clamped", name, *v, lo))
		*v = lo
	} else if *v > hi {
		*warnings = append(*warnings, fmt.Sprintf("%s %d above maximum %d, clamped", name, *v, hi))
		*v = hi
	}
}

func clampInt64(v *int64, lo, hi int64, name string, warnings *[]string) {
	if *v < lo {
		*warnings = append(*warnings, fmt.Sprintf("%s %d below minimum %d, clamped", name, *v, lo))
		*v = lo
	} else if *v > hi {
		*warnings = append(*warnings, fmt.Sprintf("%s %d above maximum %d, clamped", name, *v, hi))
		*v = hi
	}
}

func clampDuration(v *time.Duration, lo, hi time.Duration, name string, warnings *[]string) {
	if *v < lo {
		*warnings = append(*warnings, fmt.Sprintf("%s %s below minimum %s, clamped", name, *v, lo))
		*v = lo
	} else if *v > hi {
		*warnings = append(*warnings, fmt.Sprintf("%s %s above maximum %s, clamped", name, *v, hi))
		*v = hi
	}
}

func clampDurationMin(v *time.Duration, lo time.Duration, name string, warnings *[]string) {
	if *v < lo {
		*warnings = append(*warnings, fmt.Sprintf("%s %s below minimum %s, clamped", name, *v, lo))
		*v = lo
	}
}
