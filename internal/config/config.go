package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config represents runtime configuration sourced from a .env file, environment
// variables and command-line flags, in increasing order of precedence.
type Config struct {
	Interval       time.Duration `validate:"gt=0"`
	Duration       time.Duration `validate:"gte=0"`
	LowClockRatio  float64       `validate:"gt=0,lte=1"`
	LowClockStreak int           `validate:"gte=1"`
	HighLoadPct    float64       `validate:"gt=0,lte=100"`
	HistoryLimit   int           `validate:"gte=0"`
	Exclude        []string
	CSVPath        string
	ReportJSON     string
	Bell           bool
	Quiet          bool
	StressWorkers  int        `validate:"gte=0,lte=1024"`
	LogLevel       slog.Level `validate:"-"`
	LogFormat      string     `validate:"oneof=text json"`
	SysfsRoot      string     `validate:"required"`
	MaxPIDs        int        `validate:"gt=0"`
	HTTP           HTTPConfig
	Diagnosis      DiagnosisConfig
}

// HTTPConfig controls the optional live HTTP surface. An empty ListenAddr
// disables it. Linger keeps the surface up after the session ends so the
// final diagnosis can be fetched; zero stops it with the session.
type HTTPConfig struct {
	ListenAddr       string
	EnablePrometheus bool
	EnablePprof      bool
	AllowedOrigins   []string      `validate:"min=1"`
	Linger           time.Duration `validate:"gte=0"`
	WS               WebsocketConfig
}

// WebsocketConfig captures tunables for WebSocket handling.
type WebsocketConfig struct {
	MaxClients   int           `validate:"gt=0"`
	WriteTimeout time.Duration `validate:"gt=0"`
	ReadTimeout  time.Duration `validate:"gt=0"`
}

// DiagnosisConfig carries the classifier thresholds. Percentages are 0-100,
// JointHighLoadShare is a fraction of all samples.
type DiagnosisConfig struct {
	JointHighLoadShare  float64 `validate:"gt=0,lte=1"`
	JointLowClockPct    float64 `validate:"gte=0,lte=100"`
	FlatMaxLoadPct      float64 `validate:"gte=0,lte=100"`
	LightAvgLoadPct     float64 `validate:"gte=0,lte=100"`
	LightLowClockPct    float64 `validate:"gte=0,lte=100"`
	ThrottleLowClockPct float64 `validate:"gte=0,lte=100"`
}

const envPrefix = "HOTDIAG_"

var validate = validator.New()

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Interval:       5 * time.Second,
		Duration:       10 * time.Minute,
		LowClockRatio:  0.8,
		LowClockStreak: 3,
		HighLoadPct:    70,
		HistoryLimit:   20000,
		Bell:           true,
		LogLevel:       slog.LevelInfo,
		LogFormat:      "text",
		SysfsRoot:      "/sys",
		MaxPIDs:        5000,
		HTTP: HTTPConfig{
			EnablePrometheus: true,
			AllowedOrigins:   []string{"*"},
			Linger:           30 * time.Second,
			WS: WebsocketConfig{
				MaxClients:   64,
				WriteTimeout: 3 * time.Second,
				ReadTimeout:  30 * time.Second,
			},
		},
		Diagnosis: DiagnosisConfig{
			JointHighLoadShare:  0.2,
			JointLowClockPct:    20,
			FlatMaxLoadPct:      90,
			LightAvgLoadPct:     40,
			LightLowClockPct:    5,
			ThrottleLowClockPct: 10,
		},
	}
}

// Load resolves configuration. A missing .env file is not an error.
func Load(args []string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := applyFlags(&cfg, args); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and reports every violation.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must have at least %s entries", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func applyEnv(cfg *Config) error {
	if err := envDuration("INTERVAL", &cfg.Interval); err != nil {
		return err
	}
	if value := env("DURATION_MINUTES"); value != "" {
		minutes, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parse %sDURATION_MINUTES: %w", envPrefix, err)
		}
		if minutes < 0 {
			return fmt.Errorf("%sDURATION_MINUTES must be >= 0", envPrefix)
		}
		cfg.Duration = time.Duration(minutes) * time.Minute
	}
	if err := envFloat("LOW_CLOCK_RATIO", &cfg.LowClockRatio); err != nil {
		return err
	}
	if err := envInt("LOW_CLOCK_STREAK", &cfg.LowClockStreak); err != nil {
		return err
	}
	if err := envFloat("HIGH_LOAD_PCT", &cfg.HighLoadPct); err != nil {
		return err
	}
	if err := envInt("HISTORY_LIMIT", &cfg.HistoryLimit); err != nil {
		return err
	}
	if value := env("EXCLUDE"); value != "" {
		cfg.Exclude = splitAndTrim(value, ",")
	}
	if value := env("CSV_PATH"); value != "" {
		cfg.CSVPath = value
	}
	if value := env("REPORT_JSON"); value != "" {
		cfg.ReportJSON = value
	}
	if err := envBool("BELL", &cfg.Bell); err != nil {
		return err
	}
	if err := envBool("QUIET", &cfg.Quiet); err != nil {
		return err
	}
	if err := envInt("STRESS_WORKERS", &cfg.StressWorkers); err != nil {
		return err
	}
	if value := env("LOG_LEVEL"); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return fmt.Errorf("parse %sLOG_LEVEL: %w", envPrefix, err)
		}
		cfg.LogLevel = level
	}
	if value := env("LOG_FORMAT"); value != "" {
		cfg.LogFormat = strings.ToLower(value)
	}
	if value := env("SYSFS_ROOT"); value != "" {
		cfg.SysfsRoot = value
	}
	if err := envInt("PROC_MAX_PIDS", &cfg.MaxPIDs); err != nil {
		return err
	}

	if value := env("LISTEN_ADDR"); value != "" {
		cfg.HTTP.ListenAddr = value
	}
	if err := envBool("ENABLE_PROMETHEUS", &cfg.HTTP.EnablePrometheus); err != nil {
		return err
	}
	if err := envBool("ENABLE_PPROF", &cfg.HTTP.EnablePprof); err != nil {
		return err
	}
	if value := env("ALLOWED_ORIGINS"); value != "" {
		origins := splitAndTrim(value, ",")
		if len(origins) == 0 {
			return fmt.Errorf("%sALLOWED_ORIGINS must not be empty", envPrefix)
		}
		cfg.HTTP.AllowedOrigins = origins
	}
	if err := envNonNegativeDuration("HTTP_LINGER", &cfg.HTTP.Linger); err != nil {
		return err
	}
	if err := envInt("WS_MAX_CLIENTS", &cfg.HTTP.WS.MaxClients); err != nil {
		return err
	}
	if err := envDuration("WS_WRITE_TIMEOUT", &cfg.HTTP.WS.WriteTimeout); err != nil {
		return err
	}
	if err := envDuration("WS_READ_TIMEOUT", &cfg.HTTP.WS.ReadTimeout); err != nil {
		return err
	}

	diag := []struct {
		key string
		dst *float64
	}{
		{"DIAG_JOINT_HIGH_LOAD_SHARE", &cfg.Diagnosis.JointHighLoadShare},
		{"DIAG_JOINT_LOW_CLOCK_PCT", &cfg.Diagnosis.JointLowClockPct},
		{"DIAG_FLAT_MAX_LOAD_PCT", &cfg.Diagnosis.FlatMaxLoadPct},
		{"DIAG_LIGHT_AVG_LOAD_PCT", &cfg.Diagnosis.LightAvgLoadPct},
		{"DIAG_LIGHT_LOW_CLOCK_PCT", &cfg.Diagnosis.LightLowClockPct},
		{"DIAG_THROTTLE_LOW_CLOCK_PCT", &cfg.Diagnosis.ThrottleLowClockPct},
	}
	for _, d := range diag {
		if err := envFloat(d.key, d.dst); err != nil {
			return err
		}
	}
	return nil
}

func applyFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("hotdiag", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	minutes := int(cfg.Duration / time.Minute)
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "sampling interval")
	fs.IntVar(&minutes, "minutes", minutes, "session length in minutes, 0 runs until interrupted")
	fs.Float64Var(&cfg.LowClockRatio, "low-clock-ratio", cfg.LowClockRatio, "clock/max ratio below which a sample counts as low-clock")
	fs.IntVar(&cfg.LowClockStreak, "streak", cfg.LowClockStreak, "consecutive low-clock samples that raise an alert")
	fs.Float64Var(&cfg.HighLoadPct, "high-load", cfg.HighLoadPct, "CPU load percentage treated as high load")
	fs.StringVar(&cfg.CSVPath, "csv", cfg.CSVPath, "append samples to this CSV file")
	fs.StringVar(&cfg.ReportJSON, "report-json", cfg.ReportJSON, "write the final report as JSON to this file")
	fs.BoolVar(&cfg.Bell, "bell", cfg.Bell, "ring the terminal bell on sustained low clock")
	fs.BoolVar(&cfg.Quiet, "quiet", cfg.Quiet, "do not print a line per sample")
	fs.IntVar(&cfg.StressWorkers, "stress", cfg.StressWorkers, "run N synthetic CPU load workers during the session")
	fs.StringVar(&cfg.HTTP.ListenAddr, "listen", cfg.HTTP.ListenAddr, "serve live status on this address")
	fs.DurationVar(&cfg.HTTP.Linger, "linger", cfg.HTTP.Linger, "keep serving this long after the session ends")
	fs.Func("exclude", "comma separated process names never reported as top CPU", func(value string) error {
		cfg.Exclude = append(cfg.Exclude, splitAndTrim(value, ",")...)
		return nil
	})
	fs.Func("log-level", "debug|info|warn|error", func(value string) error {
		level, err := parseLogLevel(value)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
		return nil
	})

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if minutes < 0 {
		return fmt.Errorf("minutes must be >= 0")
	}
	cfg.Duration = time.Duration(minutes) * time.Minute
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func envDuration(key string, dst *time.Duration) error {
	duration, ok, err := lookupDuration(key)
	if err != nil || !ok {
		return err
	}
	if duration <= 0 {
		return fmt.Errorf("%s%s must be > 0", envPrefix, key)
	}
	*dst = duration
	return nil
}

func envNonNegativeDuration(key string, dst *time.Duration) error {
	duration, ok, err := lookupDuration(key)
	if err != nil || !ok {
		return err
	}
	if duration < 0 {
		return fmt.Errorf("%s%s must be >= 0", envPrefix, key)
	}
	*dst = duration
	return nil
}

func lookupDuration(key string) (time.Duration, bool, error) {
	value := env(key)
	if value == "" {
		return 0, false, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		// Bare numbers are seconds.
		secs, numErr := strconv.ParseFloat(value, 64)
		if numErr != nil {
			return 0, false, fmt.Errorf("parse %s%s: %w", envPrefix, key, err)
		}
		duration = time.Duration(secs * float64(time.Second))
	}
	return duration, true, nil
}

func envInt(key string, dst *int) error {
	value := env(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s%s: %w", envPrefix, key, err)
	}
	*dst = parsed
	return nil
}

func envFloat(key string, dst *float64) error {
	value := env(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s%s: %w", envPrefix, key, err)
	}
	*dst = parsed
	return nil
}

func envBool(key string, dst *bool) error {
	value := env(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("parse %s%s: %w", envPrefix, key, err)
	}
	*dst = parsed
	return nil
}

func splitAndTrim(value, sep string) []string {
	raw := strings.Split(value, sep)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
