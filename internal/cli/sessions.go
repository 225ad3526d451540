package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/flowdebug/pkg/flowdebug"
)

func newSessionsCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Browse archived sessions",
		Long: `Sessions reads the session archive configured by sessions.archive_path
(or FLOWDEBUG_ARCHIVE_PATH). Finished and evicted sessions are archived
there by 'flowdebug serve' and 'flowdebug run'.`,
	}
	cmd.AddCommand(
		newSessionsListCommand(g),
		newSessionsShowCommand(g),
	)
	return cmd
}

func newSessionsListCommand(g *globalFlags) *cobra.Command {
	var flowName string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived sessions, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.settings()
			if err != nil {
				return err
			}
			if s.ArchivePath == "" {
				return errors.New("no session archive configured: set sessions.archive_path")
			}
			d, err := newDebugger(s, newLogger(s, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer d.Close()

			infos, err := d.ArchivedSessions(flowName)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tFLOW\tSTATUS\tUPDATED")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.SessionID, info.FlowName, info.Status, info.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&flowName, "flow", "", "Only sessions of this flow")
	return cmd
}

func newSessionsShowCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print an archived session snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.settings()
			if err != nil {
				return err
			}
			if s.ArchivePath == "" {
				return errors.New("no session archive configured: set sessions.archive_path")
			}
			d, err := newDebugger(s, newLogger(s, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer d.Close()

			session := d.GetSession(args[0])
			if session == nil {
				return fmt.Errorf("%w: %s", flowdebug.ErrSessionNotFound, args[0])
			}
			printJSON(cmd.OutOrStdout(), session.Snapshot())
			return nil
		},
	}
}
