package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/flowdebug/pkg/flowdebug"
)

const runHelp = `Commands at a pause:
  c, continue        run to the next breakpoint
  s, step            run one step and pause again
  i, inspect <path>  print a context value (dot path, list indexes allowed)
  q, query <expr>    run a jq expression against the context
  x, stop            stop the execution`

func newRunCommand(g *globalFlags) *cobra.Command {
	var (
		contextJSON string
		mode        string
		breakpoints []string
		stepDelay   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <flow>",
		Short: "Run a flow in the terminal",
		Long: `Run executes a registered flow and prints each step event.

With breakpoints, --mode debug or --mode step, execution pauses and reads
commands from stdin.

` + runHelp,
		Example: `  flowdebug run user_registration --context '{"email":"ann@example.com"}'
  flowdebug run user_registration --break create_record
  flowdebug run approval -f configs/flows.yaml --mode step`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.settings()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("step-delay") {
				s.StepDelay = stepDelay
			}
			m, err := flowdebug.ParseMode(mode)
			if err != nil {
				return err
			}
			initial := map[string]any{}
			if contextJSON != "" {
				if err := json.Unmarshal([]byte(contextJSON), &initial); err != nil {
					return fmt.Errorf("parse --context: %w", err)
				}
			}

			d, err := newDebugger(s, newLogger(s, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer d.Close()

			out := &syncWriter{w: cmd.OutOrStdout()}
			return runInteractive(cmd.Context(), d, args[0], initial, m, breakpoints, cmd.InOrStdin(), out)
		},
	}

	cmd.Flags().StringVar(&contextJSON, "context", "", "Initial context as a JSON object")
	cmd.Flags().StringVar(&mode, "mode", "normal", "Execution mode: normal, debug or step")
	cmd.Flags().StringSliceVarP(&breakpoints, "break", "b", nil, "Step ids to pause before")
	cmd.Flags().DurationVar(&stepDelay, "step-delay", 0, "Duration of the placeholder step body (overrides executor.step_delay)")
	return cmd
}

type runResult struct {
	state map[string]any
	err   error
}

// runInteractive executes flowName and drives pauses from in. Reaching
// the end of in while paused stops the execution.
func runInteractive(ctx context.Context, d *flowdebug.ServiceDebugger, flowName string, initial map[string]any,
	mode flowdebug.ExecutionMode, breakpoints []string, in io.Reader, out io.Writer) error {
	id, err := d.CreateSession(flowName)
	if err != nil {
		return err
	}
	session := d.GetSession(id)
	exec := d.GetExecutor(id)

	for _, bp := range breakpoints {
		session.AddBreakpoint(bp)
	}
	flowdebug.ApplyMode(exec, mode)

	paused := make(chan string, 1)
	exec.SetCallback(func(_ context.Context, event string, data map[string]any) error {
		printEvent(out, event, data)
		if event == flowdebug.EventPaused {
			stepID, _ := data["step_id"].(string)
			paused <- stepID
		}
		return nil
	})

	fmt.Fprintf(out, "session %s: running %s\n", id, flowName)

	done := make(chan runResult, 1)
	go func() {
		state, err := exec.Execute(ctx, initial)
		done <- runResult{state: state, err: err}
	}()

	lines := bufio.NewScanner(in)
	for {
		select {
		case r := <-done:
			return printResult(out, session.Status(), r)
		case stepID := <-paused:
			prompt(ctx, session, exec, stepID, lines, out)
		}
	}
}

// prompt reads commands until one of them resumes or stops exec.
func prompt(ctx context.Context, session *flowdebug.DebugSession, exec *flowdebug.FlowExecutor,
	stepID string, lines *bufio.Scanner, out io.Writer) {
	for {
		fmt.Fprintf(out, "(%s) > ", stepID)
		if !lines.Scan() {
			fmt.Fprintln(out)
			exec.Stop()
			return
		}
		verb, arg, _ := strings.Cut(strings.TrimSpace(lines.Text()), " ")
		arg = strings.TrimSpace(arg)

		switch verb {
		case "c", "continue":
			exec.Resume()
			return
		case "s", "step":
			exec.Step()
			return
		case "x", "stop":
			exec.Stop()
			return
		case "i", "inspect":
			printJSON(out, session.Inspect(arg))
		case "q", "query":
			qctx, cancel := context.WithTimeout(ctx, flowdebug.DefaultQueryTimeout)
			v, err := flowdebug.Query(qctx, session.Context(), arg)
			cancel()
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			printJSON(out, v)
		case "":
		default:
			fmt.Fprintln(out, runHelp)
		}
	}
}

func printEvent(out io.Writer, event string, data map[string]any) {
	switch event {
	case flowdebug.EventStepStarted:
		fmt.Fprintf(out, "-> %v (%v)\n", data["step_id"], data["step_type"])
	case flowdebug.EventStepCompleted:
		fmt.Fprintf(out, "   done in %.1fms\n", data["duration_ms"])
	case flowdebug.EventStepFailed:
		fmt.Fprintf(out, "   failed: %v\n", data["error"])
	case flowdebug.EventPaused:
		reason := "pause"
		if bp, _ := data["breakpoint"].(bool); bp {
			reason = "breakpoint"
		}
		fmt.Fprintf(out, "paused before %v (%s)\n", data["step_id"], reason)
	}
}

func printResult(out io.Writer, status flowdebug.Status, r runResult) error {
	fmt.Fprintf(out, "status: %s\n", status)
	printJSON(out, r.state)
	return r.err
}

func printJSON(out io.Writer, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	fmt.Fprintln(out, string(data))
}
