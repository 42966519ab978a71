package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"proctord/internal/config"
	"proctord/internal/store"
)

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var asJSON, verify bool

	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "List stored sessions or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			w := cmd.OutOrStdout()
			ctx := cmd.Context()
			switch {
			case verify:
				return runVerify(ctx, w, st, args)
			case len(args) == 1:
				return showSession(ctx, w, st, args[0], asJSON)
			default:
				return listSessions(ctx, w, st)
			}
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the sealed session log as JSON")
	cmd.Flags().BoolVar(&verify, "verify", false, "check stored violations against sealed logs")
	return cmd
}

func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.OpenWithTimeout(cfg.Store.Path, time.Duration(cfg.Store.BusyTimeoutMs)*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	return st, nil
}

func listSessions(ctx context.Context, w io.Writer, st *store.Store) error {
	sessions, err := st.Sessions(ctx)
	if err != nil {
		return err
	}
	stats, err := st.GetStats(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tCREATED\tDURATION\tVIOLATIONS\tCRITICAL\tSTATE")
	for i := range sessions {
		s := &sessions[i]
		state := "open"
		duration := "-"
		if s.Closed() {
			state = "sealed"
			duration = s.Duration().Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			s.ID, s.CreatedAt.Local().Format(time.DateTime), duration, s.Violations, s.Critical, state)
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%d sessions (%d open), %d violations (%d critical), schema v%d\n",
		stats.Sessions, stats.OpenSessions, stats.Violations, stats.Critical, stats.SchemaVersion)
	return nil
}

func showSession(ctx context.Context, w io.Writer, st *store.Store, id string, asJSON bool) error {
	if asJSON {
		l, err := st.Log(ctx, id)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(l)
	}

	s, err := st.Session(ctx, id)
	if err != nil {
		return err
	}
	vs, err := st.Violations(ctx, id)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "session\t%s\n", s.ID)
	fmt.Fprintf(tw, "created\t%s\n", s.CreatedAt.Local().Format(time.DateTime))
	if s.Closed() {
		fmt.Fprintf(tw, "started\t%s\n", s.StartedAt.Local().Format(time.DateTime))
		fmt.Fprintf(tw, "ended\t%s\n", s.EndedAt.Local().Format(time.DateTime))
		fmt.Fprintf(tw, "digest\t%s\n", s.Digest)
	} else {
		fmt.Fprintf(tw, "state\topen\n")
	}
	fmt.Fprintf(tw, "batches\t%d\n", s.Batches)
	tw.Flush()

	printViolations(w, vs)
	return nil
}

func runVerify(ctx context.Context, w io.Writer, st *store.Store, args []string) error {
	if len(args) == 1 {
		if err := st.VerifySession(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: ok\n", args[0])
		return nil
	}

	failed, err := st.VerifyAll(ctx)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		for _, id := range failed {
			fmt.Fprintf(w, "%s: FAILED\n", id)
		}
		return fmt.Errorf("%d sessions failed verification", len(failed))
	}
	fmt.Fprintln(w, "all sealed sessions verified")
	return nil
}
