// Package config loads pulse configuration from a config file, a .env file,
// and the environment. The result is an explicit value handed to
// constructors; nothing here is global.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override (PULSE_YOUTRACK_TOKEN).
const EnvPrefix = "PULSE"

// DefaultConfigName is the config file base name searched for.
const DefaultConfigName = "pulse"

// YouTrack configures the remote connection.
type YouTrack struct {
	BaseURL         string        `mapstructure:"base_url" validate:"omitempty,url"`
	Token           string        `mapstructure:"token"`
	ProjectID       string        `mapstructure:"project_id"`
	Query           string        `mapstructure:"query"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxRetries      int           `mapstructure:"max_retries" validate:"gte=1"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	PageSize        int           `mapstructure:"page_size" validate:"gte=1,lte=10000"`
	HistoryPageSize int           `mapstructure:"history_page_size" validate:"gte=1,lte=10000"`
	MaxConns        int           `mapstructure:"max_conns" validate:"gte=1,lte=256"`
	HistoryDeadline time.Duration `mapstructure:"history_deadline" validate:"gte=0"`
}

// IssueQuery returns the configured query, or the project query.
func (y YouTrack) IssueQuery() string {
	if y.Query != "" {
		return y.Query
	}
	return "project: " + y.ProjectID
}

// Extract configures what an extraction run fetches.
type Extract struct {
	ActivityLookback time.Duration `mapstructure:"activity_lookback" validate:"gte=0"`
	EssentialFields  []string      `mapstructure:"essential_fields"`
	AssigneeFields   []string      `mapstructure:"assignee_fields"`
	Sprints          bool          `mapstructure:"sprints"`
	ReducedFallback  bool          `mapstructure:"reduced_fallback"`
}

// Metrics configures the metrics engine.
type Metrics struct {
	Window             time.Duration `mapstructure:"window" validate:"gt=0"`
	StaleDays          int           `mapstructure:"stale_days" validate:"gte=1"`
	RecentDays         int           `mapstructure:"recent_days" validate:"gte=1"`
	BlockedStates      []string      `mapstructure:"blocked_states"`
	CriticalPriorities []string      `mapstructure:"critical_priorities"`
}

// Output configures where the snapshot lands.
type Output struct {
	Dir  string `mapstructure:"dir" validate:"required"`
	File string `mapstructure:"file" validate:"required"`
}

// Path joins Dir and File.
func (o Output) Path() string {
	return filepath.Join(o.Dir, o.File)
}

// Report configures the downstream narration step.
type Report struct {
	APIKey        string   `mapstructure:"api_key"`
	Model         string   `mapstructure:"model"`
	MaxTokens     int      `mapstructure:"max_tokens" validate:"gte=1"`
	Recipients    []string `mapstructure:"recipients" validate:"dive,email"`
	SubjectPrefix string   `mapstructure:"subject_prefix"`
}

// Serve configures the long-running server and schedule.
type Serve struct {
	Addr     string        `mapstructure:"addr" validate:"required"`
	Cron     string        `mapstructure:"cron"`
	Timezone string        `mapstructure:"timezone"`
	MaxAge   time.Duration `mapstructure:"max_age" validate:"gte=0"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// Config is the full configuration.
type Config struct {
	YouTrack YouTrack `mapstructure:"youtrack"`
	Extract  Extract  `mapstructure:"extract"`
	Metrics  Metrics  `mapstructure:"metrics"`
	Output   Output   `mapstructure:"output"`
	Report   Report   `mapstructure:"report"`
	Serve    Serve    `mapstructure:"serve"`
	Log      Log      `mapstructure:"log"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("youtrack.base_url", "")
	v.SetDefault("youtrack.token", "")
	v.SetDefault("youtrack.project_id", "")
	v.SetDefault("youtrack.query", "")
	v.SetDefault("youtrack.timeout", 30*time.Second)
	v.SetDefault("youtrack.max_retries", 3)
	v.SetDefault("youtrack.retry_delay", 2*time.Second)
	v.SetDefault("youtrack.page_size", 50)
	v.SetDefault("youtrack.history_page_size", 100)
	v.SetDefault("youtrack.max_conns", 10)
	v.SetDefault("youtrack.history_deadline", time.Duration(0))

	v.SetDefault("extract.activity_lookback", 48*time.Hour)
	v.SetDefault("extract.essential_fields", []string{"State", "Priority", "Type"})
	v.SetDefault("extract.assignee_fields", []string{"Assignees", "Assignee"})
	v.SetDefault("extract.sprints", true)
	v.SetDefault("extract.reduced_fallback", true)

	v.SetDefault("metrics.window", 24*time.Hour)
	v.SetDefault("metrics.stale_days", 30)
	v.SetDefault("metrics.recent_days", 7)
	v.SetDefault("metrics.blocked_states", []string{"Blocked"})
	v.SetDefault("metrics.critical_priorities", []string{"Critical", "Show-stopper"})

	v.SetDefault("output.dir", "data")
	v.SetDefault("output.file", "snapshot.json")

	v.SetDefault("report.api_key", "")
	v.SetDefault("report.model", "claude-haiku-4-5")
	v.SetDefault("report.max_tokens", 1024)
	v.SetDefault("report.recipients", []string{})
	v.SetDefault("report.subject_prefix", "Project pulse")

	v.SetDefault("serve.addr", ":8080")
	v.SetDefault("serve.cron", "")
	v.SetDefault("serve.timezone", "")
	v.SetDefault("serve.max_age", time.Duration(0))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// legacyEnv maps keys to unprefixed variables still honored.
var legacyEnv = map[string]string{
	"youtrack.token":      "YOUTRACK_TOKEN",
	"youtrack.base_url":   "YOUTRACK_BASE_URL",
	"youtrack.project_id": "YOUTRACK_PROJECT_ID",
	"report.api_key":      "ANTHROPIC_API_KEY",
}

// LoadOptions selects the inputs of Load.
type LoadOptions struct {
	// ConfigFile is an explicit config path. When empty, pulse.{yaml,json,toml}
	// is searched in the working directory and the user config directory.
	ConfigFile string
	// EnvFile is a dotenv file loaded before the environment is read. When
	// empty, ".env" is loaded if it exists.
	EnvFile string
}

// Load reads configuration. Precedence, highest first: environment,
// config file, defaults.
func Load(opts LoadOptions) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "pulse"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load env file %s: %w", path, err)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints that hold for every command.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return describe(err)
	}
	// zero lookback fetches full history
	if lb := c.Extract.ActivityLookback; lb > 0 && lb < c.Metrics.Window {
		return fmt.Errorf("invalid config: extract.activity_lookback (%s) must cover metrics.window (%s)", lb, c.Metrics.Window)
	}
	return nil
}

// remote is the subset needed to talk to YouTrack.
type remote struct {
	BaseURL   string `validate:"required,url"`
	Token     string `validate:"required"`
	ProjectID string `validate:"required"`
}

// ValidateRemote checks that the YouTrack connection is fully configured.
func (c *Config) ValidateRemote() error {
	r := remote{BaseURL: c.YouTrack.BaseURL, Token: c.YouTrack.Token, ProjectID: c.YouTrack.ProjectID}
	if err := validate.Struct(r); err != nil {
		return describe(err)
	}
	return nil
}

var remoteKeys = map[string]string{
	"BaseURL":   "youtrack.base_url",
	"Token":     "youtrack.token",
	"ProjectID": "youtrack.project_id",
}

// describe turns validator errors into config-key messages.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := keyFor(fe.StructNamespace())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, key+" is required")
		case "url":
			msgs = append(msgs, fmt.Sprintf("%s must be a URL, got %q", key, fe.Value()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s must be an email address, got %q", key, fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", key, fe.Tag(), fe.Param()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// keyFor maps "Config.YouTrack.PageSize" to "youtrack.page_size".
func keyFor(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 0 && (parts[0] == "Config" || parts[0] == "remote") {
		if parts[0] == "remote" && len(parts) == 2 {
			return remoteKeys[parts[1]]
		}
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	switch s {
	case "YouTrack":
		return "youtrack"
	case "BaseURL":
		return "base_url"
	case "ProjectID":
		return "project_id"
	case "APIKey":
		return "api_key"
	}
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
