// Package config loads the environment variables listed in the operational
// surface section of the design: one process-wide struct, validated once at
// startup so a misconfigured deployment fails before it claims a single job.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/fillsync/ingestor/pkg/utils"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Config is the process-wide configuration shared by cmd/worker,
// cmd/scheduler, and cmd/admin. Not every field applies to every process;
// each main reads only the fields it needs.
type Config struct {
	PostgresURL string `validate:"required"`

	OrgID uuid.UUID

	WorkerID          string
	WorkerConcurrency int `validate:"min=1"`

	SchedulerTickSeconds int `validate:"min=1"`

	UseDistributedGovernor bool

	RedisAddr string

	UpstreamBaseURL   string
	UpstreamTimeout   time.Duration
	LogLevel          string
	LogEncoding       string
}

var validate = validator.New()

// Load reads the environment and validates it. orgRequired should be true
// for cmd/worker and cmd/scheduler, which scope every operation to one org,
// and false for cmd/admin subcommands that take the org as a CLI argument.
func Load(orgRequired bool) (Config, error) {
	cfg := Config{
		PostgresURL:            utils.Env("POSTGRES_URL", ""),
		WorkerID:               utils.Env("WORKER_ID", defaultWorkerID()),
		WorkerConcurrency:      utils.EnvInt("WORKER_CONCURRENCY", runtime.NumCPU()),
		SchedulerTickSeconds:   utils.EnvInt("SCHEDULER_TICK_SECONDS", 5),
		UseDistributedGovernor: utils.EnvBool("USE_DISTRIBUTED_GOVERNOR", true),
		RedisAddr:              utils.Env("REDIS_ADDR", ""),
		UpstreamBaseURL:        utils.Env("UPSTREAM_BASE_URL", ""),
		UpstreamTimeout:        utils.EnvDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		LogLevel:               utils.Env("LOG_LEVEL", "info"),
		LogEncoding:            utils.Env("LOG_ENCODING", "json"),
	}

	if raw := utils.Env("ORG_ID", ""); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return Config{}, fmt.Errorf("ORG_ID is not a valid UUID: %w", err)
		}
		cfg.OrgID = id
	} else if orgRequired {
		return Config{}, fmt.Errorf("ORG_ID is required")
	}

	if cfg.UpstreamBaseURL == "" {
		return Config{}, fmt.Errorf("UPSTREAM_BASE_URL is required")
	}

	if err := validate.Struct(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func defaultWorkerID() string {
	return fmt.Sprintf("worker-%d", os.Getpid())
}
