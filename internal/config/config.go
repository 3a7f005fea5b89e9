// Package config loads memory-engine configuration from environment
// variables, following the EnvConfig helper pattern used across the rest of
// the codebase (typed getters with defaults, panicking Must* variants for
// values that have no safe default).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig retrieves typed values from the environment, optionally scoped
// under a prefix (e.g. prefix "MEMORYENGINE" turns key "PORT" into
// "MEMORYENGINE_PORT").
type EnvConfig struct {
	prefix string
}

// NewEnvConfig creates a new environment configuration loader.
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

// GetString retrieves a string value from environment with optional default.
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		return value
	}
	return defaultValue
}

// MustGetString retrieves a required string value from environment or panics.
func (ec *EnvConfig) MustGetString(key string) string {
	fullKey := ec.buildKey(key)
	value := os.Getenv(fullKey)
	if value == "" {
		panic(fmt.Sprintf("required environment variable %s not set", fullKey))
	}
	return value
}

// GetInt retrieves an integer value from environment with optional default.
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetBool retrieves a boolean value from environment with optional default.
func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetDuration retrieves a duration value from environment with optional default.
func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// GetStringSlice retrieves a comma-separated string slice from environment.
func (ec *EnvConfig) GetStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

// MasterBudget bounds the size of the master context document (spec.md §3).
// Both the elaborate and the simple variant found in the source material are
// kept here per SPEC_FULL.md open-question (a): the elaborate one is
// canonical (used by default), the flat ceiling is exposed as an override.
type MasterBudget struct {
	Base             int
	PerActiveProject int
	PerActiveSource  int
	Ceiling          int
	FlatMax          int // legacy single-number budget, 0 disables it
}

// Config is the single typed configuration object for the service. It is
// produced once at startup by Load and passed by reference into every
// component constructor at the composition root (cmd/memoryengine).
type Config struct {
	Port int

	LearningMode bool

	DataDir         string
	SessionsDir     string
	TranscriptsDir  string
	NudgesPath      string
	AnomaliesPath   string
	MasterLocalPath string
	BackupsDir      string
	SettingsPath    string

	KBRoot      string
	Standalone  bool

	WorkingTreeRoot string
	WatchDirs       []string
	DebounceSeconds int
	DropZoneDir     string

	ModelProviderBaseURL string
	ModelAPIKey          string
	FastModel            string
	SmartModel           string

	RedisURL    string
	QueuePrefix string

	PostgresDSN string

	RateLimitPerMinute int

	AlertChannelToken string
	AlertChannelID    string

	IngestSharedSecret string
	IngestJWTSecret    string

	BackupS3Bucket   string
	BackupS3Region   string
	BackupS3Endpoint string

	MasterBudget MasterBudget

	MaxLoadResponseChars int
	TranscriptTruncateChars int
}

// Load reads configuration from the environment, applying the defaults from
// spec.md/SPEC_FULL.md throughout.
func Load() *Config {
	env := NewEnvConfig("")

	cfg := &Config{
		Port:         env.GetInt("PORT", 9040),
		LearningMode: env.GetBool("LEARNING_MODE", false),

		DataDir: env.GetString("DATA_DIR", "/app/data"),

		KBRoot:     env.GetString("KB_ROOT", ""),
		Standalone: env.GetBool("STANDALONE", false),

		WorkingTreeRoot: env.GetString("WORKING_TREE_ROOT", "/app/data/working-tree"),
		WatchDirs:       env.GetStringSlice("WATCH_DIRS", []string{"/app/data/working-tree"}),
		DebounceSeconds: env.GetInt("DEBOUNCE_SECONDS", 10),
		DropZoneDir:     env.GetString("TRANSCRIPT_DROPZONE_DIR", "/app/data/transcript-dropzone"),

		ModelProviderBaseURL: env.GetString("MODEL_PROVIDER_BASE_URL", "https://openrouter.ai/api/v1"),
		ModelAPIKey:          env.GetString("MODEL_PROVIDER_API_KEY", ""),
		FastModel:            env.GetString("MODEL_FAST", "openrouter/fast-default"),
		SmartModel:           env.GetString("MODEL_SMART", "openrouter/smart-default"),

		RedisURL:    env.GetString("REDIS_URL", "redis://localhost:6379/0"),
		QueuePrefix: env.GetString("QUEUE_PREFIX", "memoryengine:"),

		PostgresDSN: env.GetString("POSTGRES_DSN", ""),

		RateLimitPerMinute: env.GetInt("RATE_LIMIT_PER_MINUTE", 1),

		AlertChannelToken: env.GetString("ALERT_CHANNEL_TOKEN", ""),
		AlertChannelID:    env.GetString("ALERT_CHANNEL_ID", ""),

		IngestSharedSecret: env.GetString("INGEST_SHARED_SECRET", ""),
		IngestJWTSecret:    env.GetString("INGEST_JWT_SECRET", ""),

		BackupS3Bucket:   env.GetString("BACKUP_S3_BUCKET", ""),
		BackupS3Region:   env.GetString("BACKUP_S3_REGION", "us-east-1"),
		BackupS3Endpoint: env.GetString("BACKUP_S3_ENDPOINT", ""),

		MasterBudget: MasterBudget{
			Base:             env.GetInt("MASTER_BUDGET_BASE", 20000),
			PerActiveProject: env.GetInt("MASTER_BUDGET_PER_PROJECT", 2000),
			PerActiveSource:  env.GetInt("MASTER_BUDGET_PER_SOURCE", 1500),
			Ceiling:          env.GetInt("MASTER_BUDGET_CEILING", 32000),
			FlatMax:          env.GetInt("MASTER_BUDGET_FLAT_MAX", 0), // 0 = use elaborate formula only
		},

		MaxLoadResponseChars:    env.GetInt("MAX_LOAD_RESPONSE_CHARS", 40000),
		TranscriptTruncateChars: env.GetInt("TRANSCRIPT_TRUNCATE_CHARS", 120000),
	}

	cfg.SessionsDir = env.GetString("SESSIONS_DIR", cfg.DataDir+"/sessions")
	cfg.TranscriptsDir = env.GetString("TRANSCRIPTS_DIR", cfg.DataDir+"/transcripts")
	cfg.NudgesPath = env.GetString("NUDGES_PATH", cfg.DataDir+"/nudges.json")
	cfg.AnomaliesPath = env.GetString("ANOMALIES_PATH", cfg.DataDir+"/anomalies.json")
	cfg.MasterLocalPath = env.GetString("MASTER_LOCAL_PATH", cfg.DataDir+"/master-context.md")
	cfg.BackupsDir = env.GetString("BACKUPS_DIR", cfg.DataDir+"/backups")
	cfg.SettingsPath = env.GetString("SETTINGS_PATH", cfg.DataDir+"/settings.json")

	return cfg
}

// Budget computes the dynamic master-context character budget for the given
// number of active projects and sources (spec.md §3).
func (b MasterBudget) Budget(activeProjects, activeSources int) int {
	if b.FlatMax > 0 && b.FlatMax < b.Base {
		// Legacy flat budget requested explicitly as smaller than the
		// elaborate base; honor it verbatim (open question (a)).
		return b.FlatMax
	}
	n := b.Base + activeProjects*b.PerActiveProject + activeSources*b.PerActiveSource
	if n > b.Ceiling {
		return b.Ceiling
	}
	return n
}
