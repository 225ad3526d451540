package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings is the resolved configuration of a flowdebug process.
type Settings struct {
	Addr        string
	Prefix      string
	ServiceName string

	// StepDelay is how long the placeholder step body sleeps.
	StepDelay time.Duration

	SessionCapacity int
	SessionTTL      time.Duration
	// ArchivePath selects the SQLite session archive. Empty keeps
	// finished sessions in memory only.
	ArchivePath string

	LogLevel  string
	LogFormat string

	MetricsEnabled bool
	TracingEnabled bool
	TraceStdout    bool

	FlowFiles []string
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		Addr:            ":8080",
		Prefix:          "/debug",
		ServiceName:     "flowdebug",
		StepDelay:       100 * time.Millisecond,
		SessionCapacity: 256,
		SessionTTL:      time.Hour,
		LogLevel:        "info",
		LogFormat:       "text",
		MetricsEnabled:  true,
	}
}

// Load applies the values in cfg over Defaults.
func Load(cfg Config) Settings {
	d := Defaults()
	return Settings{
		Addr:            cfg.String("server.addr", d.Addr),
		Prefix:          cfg.String("server.prefix", d.Prefix),
		ServiceName:     cfg.String("service.name", d.ServiceName),
		StepDelay:       cfg.Duration("executor.step_delay", d.StepDelay),
		SessionCapacity: cfg.Int("sessions.capacity", d.SessionCapacity),
		SessionTTL:      cfg.Duration("sessions.ttl", d.SessionTTL),
		ArchivePath:     cfg.String("sessions.archive_path", d.ArchivePath),
		LogLevel:        cfg.String("log.level", d.LogLevel),
		LogFormat:       cfg.String("log.format", d.LogFormat),
		MetricsEnabled:  cfg.Bool("metrics.enabled", d.MetricsEnabled),
		TracingEnabled:  cfg.Bool("tracing.enabled", d.TracingEnabled),
		TraceStdout:     cfg.Bool("tracing.stdout", d.TraceStdout),
		FlowFiles:       cfg.StringSlice("flows.files", nil),
	}
}

// LoadSettings reads path (if non-empty), then applies environment overrides.
func LoadSettings(path string) (Settings, error) {
	s := Defaults()
	if path != "" {
		cfg, err := FromFile(path)
		if err != nil {
			return Settings{}, err
		}
		s = Load(cfg)
	}
	if err := s.ApplyEnv(os.LookupEnv); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// ApplyEnv overrides fields from FLOWDEBUG_* variables found by lookup.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	str("FLOWDEBUG_ADDR", &s.Addr)
	str("FLOWDEBUG_PREFIX", &s.Prefix)
	str("FLOWDEBUG_SERVICE_NAME", &s.ServiceName)
	str("FLOWDEBUG_ARCHIVE_PATH", &s.ArchivePath)
	str("FLOWDEBUG_LOG_LEVEL", &s.LogLevel)
	str("FLOWDEBUG_LOG_FORMAT", &s.LogFormat)

	if v, ok := lookup("FLOWDEBUG_STEP_DELAY"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FLOWDEBUG_STEP_DELAY: %w", err)
		}
		s.StepDelay = d
	}
	if v, ok := lookup("FLOWDEBUG_SESSION_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FLOWDEBUG_SESSION_TTL: %w", err)
		}
		s.SessionTTL = d
	}
	if v, ok := lookup("FLOWDEBUG_SESSION_CAPACITY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FLOWDEBUG_SESSION_CAPACITY: %w", err)
		}
		s.SessionCapacity = n
	}
	if v, ok := lookup("FLOWDEBUG_METRICS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FLOWDEBUG_METRICS: %w", err)
		}
		s.MetricsEnabled = b
	}
	if v, ok := lookup("FLOWDEBUG_TRACING"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FLOWDEBUG_TRACING: %w", err)
		}
		s.TracingEnabled = b
	}
	if v, ok := lookup("FLOWDEBUG_FLOWS"); ok && v != "" {
		var files []string
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				files = append(files, f)
			}
		}
		s.FlowFiles = files
	}
	return nil
}

// Validate reports settings that cannot be served.
func (s Settings) Validate() error {
	if s.SessionCapacity <= 0 {
		return fmt.Errorf("sessions.capacity must be positive, got %d", s.SessionCapacity)
	}
	if s.SessionTTL < 0 {
		return fmt.Errorf("sessions.ttl must not be negative, got %s", s.SessionTTL)
	}
	if s.Prefix != "" && !strings.HasPrefix(s.Prefix, "/") {
		return fmt.Errorf("server.prefix must start with '/', got %q", s.Prefix)
	}
	return nil
}
