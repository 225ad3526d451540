// Package cli implements the flowdebug command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/flowdebug/pkg/flowdebug"
	"github.com/randalmurphal/flowdebug/pkg/flowdebug/config"
	"github.com/randalmurphal/flowdebug/pkg/flowdebug/observability"
	"github.com/randalmurphal/flowdebug/pkg/flowdebug/store"
)

// Version information, set from main.
var (
	version = "dev"
	commit  = "unknown"
)

// SetVersion records the build version reported by the version command.
func SetVersion(v, c string) {
	version, commit = v, c
}

// globalFlags are the persistent flags shared by every sub-command.
type globalFlags struct {
	configPath string
	flowFiles  []string
	logLevel   string
	logFormat  string
}

// NewRootCommand creates the root command with every sub-command attached.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "flowdebug",
		Short: "Step through business flows with breakpoints and live inspection",
		Long: `flowdebug runs declared business flows one step at a time.

Flows are loaded from YAML or JSON files (--flows or flows.files in the
config file). Without any, the built-in user_registration flow is served.

Run 'flowdebug serve' to start the debug API and browser console.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to config file (YAML or JSON)")
	cmd.PersistentFlags().StringSliceVarP(&g.flowFiles, "flows", "f", nil, "Flow definition files (overrides flows.files)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format: text or json")

	cmd.AddCommand(
		newServeCommand(g),
		newRunCommand(g),
		newFlowsCommand(g),
		newSessionsCommand(g),
		newVersionCommand(),
	)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "flowdebug %s (%s)\n", version, commit)
			return err
		},
	}
}

// settings resolves the config file, environment and command-line flags,
// in that order of precedence from lowest to highest.
func (g *globalFlags) settings() (config.Settings, error) {
	s, err := config.LoadSettings(g.configPath)
	if err != nil {
		return config.Settings{}, err
	}
	if len(g.flowFiles) > 0 {
		s.FlowFiles = g.flowFiles
	}
	if g.logLevel != "" {
		s.LogLevel = g.logLevel
	}
	if g.logFormat != "" {
		s.LogFormat = g.logFormat
	}
	if err := s.Validate(); err != nil {
		return config.Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

func newLogger(s config.Settings, out io.Writer) *slog.Logger {
	return observability.NewLogger(observability.LoggerConfig{
		Level:  s.LogLevel,
		Format: s.LogFormat,
		Output: out,
	})
}

// loadFlows reads every configured flow file. With none configured it
// returns the built-in registration flow.
func loadFlows(files []string) ([]*flowdebug.BusinessFlow, error) {
	if len(files) == 0 {
		return []*flowdebug.BusinessFlow{flowdebug.UserRegistrationFlow()}, nil
	}
	var flows []*flowdebug.BusinessFlow
	for _, path := range files {
		loaded, err := flowdebug.LoadFlows(path)
		if err != nil {
			return nil, err
		}
		flows = append(flows, loaded...)
	}
	return flows, nil
}

// newDebugger builds a debugger from s with its archive and flows.
// Callers own the returned debugger and must Close it.
func newDebugger(s config.Settings, logger *slog.Logger, extra ...flowdebug.Option) (*flowdebug.ServiceDebugger, error) {
	flows, err := loadFlows(s.FlowFiles)
	if err != nil {
		return nil, err
	}

	opts := []flowdebug.Option{
		flowdebug.WithLogger(logger),
		flowdebug.WithStepDelay(s.StepDelay),
		flowdebug.WithSessionCapacity(s.SessionCapacity),
		flowdebug.WithSessionTTL(s.SessionTTL),
	}
	if s.ArchivePath != "" {
		archive, err := store.NewSQLiteArchive(s.ArchivePath)
		if err != nil {
			return nil, fmt.Errorf("open session archive: %w", err)
		}
		opts = append(opts, flowdebug.WithArchive(archive))
	}
	opts = append(opts, extra...)

	d := flowdebug.NewServiceDebugger(s.ServiceName, opts...)
	for _, f := range flows {
		if err := d.RegisterFlow(f); err != nil {
			_ = d.Close()
			return nil, err
		}
	}
	return d, nil
}

// syncWriter serializes writes from the executor goroutine and the
// command goroutine.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
