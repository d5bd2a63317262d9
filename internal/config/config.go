// Package config reads the service configuration from the environment, after
// loading an optional .env file. Malformed values fall back to their defaults;
// Validate reports combinations that cannot work.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dvloznov/statement-extractor/internal/analysis"
	"github.com/dvloznov/statement-extractor/internal/archive"
	"github.com/dvloznov/statement-extractor/internal/cleanup"
	"github.com/dvloznov/statement-extractor/internal/jobs/asynqueue"
	"github.com/dvloznov/statement-extractor/internal/logger"
	"github.com/dvloznov/statement-extractor/internal/normalize"
	"github.com/dvloznov/statement-extractor/internal/pipeline"
	"github.com/dvloznov/statement-extractor/internal/storage/gcs"
	"github.com/dvloznov/statement-extractor/internal/storage/s3"
)

// Backend names accepted by the *_BACKEND variables.
const (
	BackendMemory   = "memory"
	BackendGCS      = "gcs"
	BackendS3       = "s3"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Store     StoreConfig
	Queue     QueueConfig
	Gemini    normalize.GeminiConfig
	Normalize normalize.Config
	Analysis  analysis.Config
	Pipeline  pipeline.Config
	Cleanup   cleanup.Config
	Archive   archive.Config
	Log       logger.Config
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
	AllowedOrigins  []string
}

type StorageConfig struct {
	Backend string
	GCS     gcs.Config
	S3      s3.Config
}

type StoreConfig struct {
	Backend     string
	DSN         string
	MaxConns    int32
	AutoMigrate bool
}

type QueueConfig struct {
	Backend string
	Redis   asynqueue.RedisConfig
	Name    string
	Workers int
	Buffer  int
}

// envFiles are tried in order; the first one found wins.
var envFiles = []string{".env", "../.env", "../../.env"}

// Load reads configuration from environment variables falling back to defaults.
func Load() (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err == nil {
			break
		}
	}
	return FromEnv(), nil
}

// FromEnv builds a Config from the current environment only.
func FromEnv() *Config {
	normDef := normalize.DefaultConfig()
	anDef := analysis.DefaultConfig()
	pipeDef := pipeline.DefaultConfig()
	cleanDef := cleanup.DefaultConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     getDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxUploadBytes:  getInt64("MAX_UPLOAD_BYTES", 20<<20),
			AllowedOrigins:  getList("CORS_ALLOWED_ORIGINS", "*"),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(getEnv("STORAGE_BACKEND", BackendMemory)),
			GCS: gcs.Config{
				Bucket:          getEnv("GCS_BUCKET", ""),
				Prefix:          getEnv("GCS_PREFIX", ""),
				CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
			},
			S3: s3.Config{
				Endpoint:  getEnv("S3_ENDPOINT", "localhost:9000"),
				AccessKey: getEnv("S3_ACCESS_KEY", ""),
				SecretKey: getEnv("S3_SECRET_KEY", ""),
				UseSSL:    getBool("S3_USE_SSL", false),
				Bucket:    getEnv("S3_BUCKET", ""),
				Regions:   getList("S3_REGIONS", ""),
			},
		},
		Store: StoreConfig{
			Backend:     strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
			DSN:         getEnv("DATABASE_URL", ""),
			MaxConns:    int32(getInt("DATABASE_MAX_CONNS", 10)),
			AutoMigrate: getBool("DATABASE_AUTO_MIGRATE", true),
		},
		Queue: QueueConfig{
			Backend: strings.ToLower(getEnv("QUEUE_BACKEND", BackendMemory)),
			Redis: asynqueue.RedisConfig{
				Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getInt("REDIS_DB", 0),
			},
			Name:    getEnv("QUEUE_NAME", ""),
			Workers: getInt("QUEUE_WORKERS", 2),
			Buffer:  getInt("QUEUE_BUFFER", 100),
		},
		Gemini: normalize.GeminiConfig{
			APIKey:      getEnv("GEMINI_API_KEY", ""),
			Model:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			Temperature: float32(getFloat("GEMINI_TEMPERATURE", 0)),
			Project:     getEnv("GOOGLE_CLOUD_PROJECT", ""),
			Location:    getEnv("GOOGLE_CLOUD_LOCATION", ""),
		},
		Normalize: normalize.Config{
			MaxAttempts:    getInt("NORMALIZE_MAX_ATTEMPTS", normDef.MaxAttempts),
			InitialBackoff: getDuration("NORMALIZE_INITIAL_BACKOFF", normDef.InitialBackoff),
			MaxBackoff:     getDuration("NORMALIZE_MAX_BACKOFF", normDef.MaxBackoff),
			AttemptTimeout: getDuration("NORMALIZE_ATTEMPT_TIMEOUT", normDef.AttemptTimeout),
			TotalBudget:    getDuration("NORMALIZE_TOTAL_BUDGET", normDef.TotalBudget),
		},
		Analysis: analysis.Config{
			MaxBytes:      getInt64("ANALYSIS_MAX_BYTES", anDef.MaxBytes),
			MaxPages:      getInt("ANALYSIS_MAX_PAGES", anDef.MaxPages),
			MaxConcurrent: int64(getInt("ANALYSIS_MAX_CONCURRENT", int(anDef.MaxConcurrent))),
			CellGap:       getFloat("ANALYSIS_CELL_GAP", anDef.CellGap),
		},
		Pipeline: pipeline.Config{
			RetrieveTimeout: getDuration("PIPELINE_RETRIEVE_TIMEOUT", pipeDef.RetrieveTimeout),
			AnalyzeTimeout:  getDuration("PIPELINE_ANALYZE_TIMEOUT", pipeDef.AnalyzeTimeout),
			PersistTimeout:  getDuration("PIPELINE_PERSIST_TIMEOUT", pipeDef.PersistTimeout),
		},
		Cleanup: cleanup.Config{
			CompletedRetention: getDuration("CLEANUP_COMPLETED_RETENTION", cleanDef.CompletedRetention),
			FailedRetention:    getDuration("CLEANUP_FAILED_RETENTION", cleanDef.FailedRetention),
			Interval:           getDuration("CLEANUP_INTERVAL", cleanDef.Interval),
			MaxJobsPerSweep:    getInt("CLEANUP_MAX_JOBS_PER_SWEEP", cleanDef.MaxJobsPerSweep),
			FinalSweep:         getBool("CLEANUP_FINAL_SWEEP", cleanDef.FinalSweep),
			Concurrency:        getInt("CLEANUP_CONCURRENCY", cleanDef.Concurrency),
		},
		Archive: archive.Config{
			ProjectID:         getEnv("ARCHIVE_PROJECT_ID", ""),
			DatasetID:         getEnv("ARCHIVE_DATASET_ID", ""),
			StatementsTable:   getEnv("ARCHIVE_STATEMENTS_TABLE", ""),
			TransactionsTable: getEnv("ARCHIVE_TRANSACTIONS_TABLE", ""),
		},
		Log: logger.Config{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", logger.FormatConsole),
		},
	}
	// A synchronous process request must outlive the slowest pipeline run.
	cfg.Server.WriteTimeout = getDuration("SERVER_WRITE_TIMEOUT", cfg.PipelineBudget()+writeTimeoutMargin)
	return cfg
}

const writeTimeoutMargin = 30 * time.Second

// PipelineBudget is the longest a single pipeline run can take: every stage
// at its timeout plus the terminal write.
func (c *Config) PipelineBudget() time.Duration {
	return c.Pipeline.RetrieveTimeout + c.Pipeline.AnalyzeTimeout + c.Normalize.TotalBudget + c.Pipeline.PersistTimeout
}

// Validate reports every backend selection that lacks its required settings.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendGCS:
		if c.Storage.GCS.Bucket == "" {
			errs = append(errs, errors.New("GCS_BUCKET is required when STORAGE_BACKEND=gcs"))
		}
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required when STORAGE_BACKEND=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend))
	}

	switch c.Queue.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Queue.Redis.Addr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when QUEUE_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_BACKEND %q", c.Queue.Backend))
	}

	// The in-memory queue and store live inside the API process; a redis
	// worker elsewhere could not see the jobs.
	if c.Queue.Backend == BackendRedis && c.Store.Backend == BackendMemory {
		errs = append(errs, errors.New("QUEUE_BACKEND=redis requires STORE_BACKEND=postgres"))
	}

	if c.Gemini.APIKey == "" && c.Gemini.Project == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY or GOOGLE_CLOUD_PROJECT is required"))
	}
	if c.Gemini.Project != "" && c.Gemini.Location == "" {
		errs = append(errs, errors.New("GOOGLE_CLOUD_LOCATION is required with GOOGLE_CLOUD_PROJECT"))
	}

	if (c.Archive.ProjectID == "") != (c.Archive.DatasetID == "") {
		errs = append(errs, errors.New("ARCHIVE_PROJECT_ID and ARCHIVE_DATASET_ID must be set together"))
	}

	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getList(key, def string) []string {
	val := getEnv(key, def)
	if strings.TrimSpace(val) == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getInt(key string, def int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil && v > 0 {
		return v
	}
	return def
}

func getInt64(key string, def int64) int64 {
	if v, err := strconv.ParseInt(getEnv(key, ""), 10, 64); err == nil && v > 0 {
		return v
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil && v >= 0 {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return def
}

// getDuration accepts Go durations ("90s", "24h") and bare seconds.
func getDuration(key string, def time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}
