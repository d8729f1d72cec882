// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/archive"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/dag"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/logging"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/pipeline"
)

// Storage backends accepted by Validate. Collision and VCS policies are the
// archive package's constants.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	Logging   logging.Config  `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	DAG       DAGConfig       `mapstructure:"dag"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Transform TransformConfig `mapstructure:"transform"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	VCS       VCSConfig       `mapstructure:"vcs"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	DB        DBConfig        `mapstructure:"db"`
	Email     EmailConfig     `mapstructure:"email"`
}

// ServerConfig controls the status HTTP server used in schedule mode.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DAGConfig is the scheduling bundle: default task args plus the interval.
type DAGConfig struct {
	ID               string        `mapstructure:"id"`
	Description      string        `mapstructure:"description"`
	Owner            string        `mapstructure:"owner"`
	DependsOnPast    bool          `mapstructure:"depends_on_past"`
	StartDateRaw     string        `mapstructure:"start_date"`
	EmailOnFailure   bool          `mapstructure:"email_on_failure"`
	EmailOnRetry     bool          `mapstructure:"email_on_retry"`
	Retries          int           `mapstructure:"retries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	ScheduleInterval time.Duration `mapstructure:"schedule_interval"`

	// StartDate is parsed from StartDateRaw by Load.
	StartDate time.Time `mapstructure:"-"`
}

// Args converts the bundle into the DAG's default task arguments.
func (c DAGConfig) Args() dag.DefaultArgs {
	return dag.DefaultArgs{
		Owner:          c.Owner,
		DependsOnPast:  c.DependsOnPast,
		StartDate:      c.StartDate,
		EmailOnFailure: c.EmailOnFailure,
		EmailOnRetry:   c.EmailOnRetry,
		Retries:        c.Retries,
		RetryDelay:     c.RetryDelay,
	}
}

// PipelineConfig lists the pages to scrape and the tags to keep.
type PipelineConfig struct {
	URLs []string `mapstructure:"urls"`
	Tags []string `mapstructure:"tags"`
}

// HTTPConfig configures the page fetcher. A zero timeout means none.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`

	// RequestsPerSecond caps fetches per host; zero disables the limiter.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// TransformConfig sets where the dataset file is written.
type TransformConfig struct {
	OutputPath string `mapstructure:"output_path"`
}

// ArchiveConfig locates the data repository and the collision policy.
type ArchiveConfig struct {
	RepoDir     string `mapstructure:"repo_dir"`
	DataDir     string `mapstructure:"data_dir"`
	OnCollision string `mapstructure:"on_collision"`
}

// VCSConfig controls the data version-control commands.
type VCSConfig struct {
	Policy    string `mapstructure:"policy"`
	Binary    string `mapstructure:"binary"`
	Remote    string `mapstructure:"remote"`
	GitCommit bool   `mapstructure:"git_commit"`
	GitBinary string `mapstructure:"git_binary"`
}

// StorageConfig selects where archived datasets are mirrored.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls the optional Postgres run history.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// EmailConfig configures SMTP delivery for failure/retry alerts.
type EmailConfig struct {
	SMTPAddr string   `mapstructure:"smtp_addr"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return load(path, time.Now().UTC())
}

func load(path string, now time.Time) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	start, err := parseStartDate(cfg.DAG.StartDateRaw, now)
	if err != nil {
		return Config{}, err
	}
	cfg.DAG.StartDate = start

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("dag.id", "automated_data_pipeline")
	v.SetDefault("dag.description", "DAG to handle data scraping, processing, and versioning")
	v.SetDefault("dag.owner", "user")
	v.SetDefault("dag.depends_on_past", false)
	v.SetDefault("dag.start_date", "")
	v.SetDefault("dag.email_on_failure", false)
	v.SetDefault("dag.email_on_retry", false)
	v.SetDefault("dag.retries", 1)
	v.SetDefault("dag.retry_delay", "5m")
	v.SetDefault("dag.schedule_interval", "24h")
	v.SetDefault("pipeline.urls", []string{"https://www.dawn.com/", "https://www.bbc.com/"})
	v.SetDefault("pipeline.tags", tagNames(pipeline.DefaultTags))
	v.SetDefault("http.timeout_seconds", 0)
	v.SetDefault("http.user_agent", "mlops-pipeline/1.0")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("transform.output_path", "processed_data.csv")
	v.SetDefault("archive.repo_dir", "dvc_storage")
	v.SetDefault("archive.data_dir", "data")
	v.SetDefault("archive.on_collision", archive.CollisionOverwrite)
	v.SetDefault("vcs.policy", archive.PolicyFailOnError)
	v.SetDefault("vcs.binary", "dvc")
	v.SetDefault("vcs.git_commit", false)
	v.SetDefault("vcs.git_binary", "git")
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.prefix", "datasets")
	v.SetDefault("db.table", "pipeline_runs")
}

// parseStartDate accepts RFC3339 or YYYY-MM-DD. Empty means midnight UTC
// one day before now.
func parseStartDate(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.UTC().Truncate(24*time.Hour).AddDate(0, 0, -1), nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("dag.start_date %q: want RFC3339 or YYYY-MM-DD", raw)
	}
	return ts.UTC(), nil
}

func tagNames(tags []pipeline.Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = string(t)
	}
	return out
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.DAG.ID) == "" {
		return fmt.Errorf("dag.id is required")
	}
	if c.DAG.Retries < 0 {
		return fmt.Errorf("dag.retries must be >= 0")
	}
	if c.DAG.RetryDelay < 0 {
		return fmt.Errorf("dag.retry_delay must be >= 0")
	}
	if c.DAG.ScheduleInterval <= 0 {
		return fmt.Errorf("dag.schedule_interval must be > 0")
	}
	if _, err := c.Tags(); err != nil {
		return err
	}
	if c.HTTP.TimeoutSeconds < 0 {
		return fmt.Errorf("http.timeout_seconds must be >= 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	if strings.TrimSpace(c.Transform.OutputPath) == "" {
		return fmt.Errorf("transform.output_path is required")
	}
	if strings.TrimSpace(c.Archive.RepoDir) == "" {
		return fmt.Errorf("archive.repo_dir is required")
	}
	switch c.Archive.OnCollision {
	case archive.CollisionOverwrite, archive.CollisionFail:
	default:
		return fmt.Errorf("archive.on_collision must be %q or %q", archive.CollisionOverwrite, archive.CollisionFail)
	}
	switch c.VCS.Policy {
	case archive.PolicyFailOnError, archive.PolicyBestEffort:
	default:
		return fmt.Errorf("vcs.policy must be %q or %q", archive.PolicyFailOnError, archive.PolicyBestEffort)
	}
	if strings.TrimSpace(c.VCS.Binary) == "" {
		return fmt.Errorf("vcs.binary is required")
	}
	switch c.Storage.Backend {
	case "", StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if (c.DAG.EmailOnFailure || c.DAG.EmailOnRetry) && c.Email.SMTPAddr != "" {
		if c.Email.From == "" || len(c.Email.To) == 0 {
			return fmt.Errorf("email.from and email.to are required when email alerts are enabled")
		}
	}
	return nil
}

// Tags parses the configured tag names.
func (c Config) Tags() ([]pipeline.Tag, error) {
	if len(c.Pipeline.Tags) == 0 {
		return nil, fmt.Errorf("pipeline.tags must not be empty")
	}
	tags := make([]pipeline.Tag, 0, len(c.Pipeline.Tags))
	for _, raw := range c.Pipeline.Tags {
		tag, err := pipeline.ParseTag(raw)
		if err != nil {
			return nil, fmt.Errorf("pipeline.tags: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// FetchTimeout converts http.timeout_seconds; zero disables the timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
