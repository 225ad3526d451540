package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/flowdebug/pkg/flowdebug"
)

func newFlowsCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flows",
		Short: "Inspect flow definitions",
	}
	cmd.AddCommand(
		newFlowsListCommand(g),
		newFlowsShowCommand(g),
		newFlowsValidateCommand(),
	)
	return cmd
}

func newFlowsListCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured flows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.settings()
			if err != nil {
				return err
			}
			d, err := newDebugger(s, newLogger(s, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer d.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTEPS\tSTART\tDESCRIPTION")
			for _, f := range d.ListFlows() {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", f.Name, f.Steps, f.StartStep, f.Description)
			}
			return w.Flush()
		},
	}
}

func newFlowsShowCommand(g *globalFlags) *cobra.Command {
	var diagramOnly bool

	cmd := &cobra.Command{
		Use:   "show <flow>",
		Short: "Print a flow with its Mermaid diagram",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.settings()
			if err != nil {
				return err
			}
			d, err := newDebugger(s, newLogger(s, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer d.Close()

			detail, err := d.GetFlowDetail(args[0])
			if err != nil {
				return err
			}
			if diagramOnly {
				_, err = fmt.Fprint(cmd.OutOrStdout(), detail.Diagram)
				return err
			}
			printJSON(cmd.OutOrStdout(), detail)
			return nil
		},
	}
	cmd.Flags().BoolVar(&diagramOnly, "diagram", false, "Print only the Mermaid diagram")
	return cmd
}

func newFlowsValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check flow definition files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for _, path := range args {
				flows, err := flowdebug.LoadFlows(path)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s\n  %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok   %s (%d flows)\n", path, len(flows))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files invalid", failed, len(args))
			}
			return nil
		},
	}
}
