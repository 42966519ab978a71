package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"proctord/internal/config"
	"proctord/internal/proctor"
	"proctord/internal/report"
	"proctord/internal/signalbus"
	"proctord/internal/store"
)

type replayOptions struct {
	mobile  bool
	persist bool
	output  string
	start   string
	tail    time.Duration
}

func newReplayCmd(g *globalFlags) *cobra.Command {
	o := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay <script>",
		Short: "Replay a recorded signal script",
		Long: `Replay feeds a JSON-lines signal script to a fresh monitor on a simulated
clock and prints the resulting status, violations and audit log. Use "-" to
read the script from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			return runReplay(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], o)
		},
	}
	cmd.Flags().BoolVar(&o.mobile, "mobile", false, "replay with touch device capabilities")
	cmd.Flags().BoolVar(&o.persist, "persist", false, "store the sealed session log")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "write the sealed session log to this file")
	cmd.Flags().StringVar(&o.start, "start", "", "replay start time (RFC 3339, default now)")
	cmd.Flags().DurationVar(&o.tail, "tail", 0, "advance the clock this long after the last step")
	return cmd
}

func runReplay(ctx context.Context, w io.Writer, cfg *config.Config, path string, o *replayOptions) error {
	steps, err := readSteps(path)
	if err != nil {
		return err
	}

	start := time.Now().UTC().Truncate(time.Millisecond)
	if o.start != "" {
		if start, err = time.Parse(time.RFC3339, o.start); err != nil {
			return fmt.Errorf("parse --start: %w", err)
		}
	}

	caps := signalbus.Desktop()
	if o.mobile {
		caps = signalbus.Mobile()
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	p, err := signalbus.NewPlayer(cfg.Proctor(), caps, start, proctor.Options{
		Logger: logger.WithComponent("replay").Logger,
	})
	if err != nil {
		return err
	}
	defer p.Monitor.Close()

	if err := p.Run(ctx, steps); err != nil {
		fmt.Fprintf(w, "warning: %v\n\n", err)
	}
	if o.tail > 0 {
		p.Advance(o.tail)
	}

	printStatus(w, p.Monitor.Status())
	printViolations(w, p.Monitor.Violations())
	printAudit(w, p.Monitor.AuditLog())

	if o.output == "" && !o.persist {
		return nil
	}

	// The log is sealed from the ended session.
	if err := p.Monitor.SetActive(false); err != nil {
		return err
	}
	snap, ok := p.Monitor.Snapshot()
	if !ok {
		return fmt.Errorf("script never activated a session")
	}
	l, err := report.FromSnapshot(snap)
	if err != nil {
		return fmt.Errorf("seal session log: %w", err)
	}

	if o.output != "" {
		data, err := l.Marshal()
		if err != nil {
			return err
		}
		if err := os.WriteFile(o.output, data, 0600); err != nil {
			return fmt.Errorf("write session log: %w", err)
		}
		fmt.Fprintf(w, "\nsealed log written to %s\n", o.output)
	}
	if o.persist {
		if err := persistLog(ctx, cfg, l); err != nil {
			return err
		}
		fmt.Fprintf(w, "\nsession %s stored in %s\n", l.SessionID, cfg.Store.Path)
	}
	return nil
}

func readSteps(path string) ([]signalbus.Step, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	steps, err := signalbus.ReadScript(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return steps, nil
}

// persistLog writes l to the store as a single final batch.
func persistLog(ctx context.Context, cfg *config.Config, l *report.Log) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	st, err := store.OpenWithTimeout(cfg.Store.Path, time.Duration(cfg.Store.BusyTimeoutMs)*time.Millisecond)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	data, err := report.EncodeBatch(report.Batch{
		SessionID:  l.SessionID,
		Seq:        1,
		Violations: []proctor.Violation{},
		Log:        l,
	})
	if err != nil {
		return err
	}
	return st.Persist(ctx, data)
}

func printStatus(w io.Writer, st proctor.Status) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "session\t%s\n", orDash(st.SessionID))
	fmt.Fprintf(tw, "phase\t%s\n", st.Phase)
	fmt.Fprintf(tw, "active\t%t\n", st.Active)
	fmt.Fprintf(tw, "fullscreen\t%t\n", st.Fullscreen)
	if st.AwaitingAcknowledgment {
		fmt.Fprintf(tw, "awaiting ack\t%s\n", st.PendingMessage)
	}
	fmt.Fprintf(tw, "violations\t%d\n", st.Readout.TotalViolations)

	types := make([]string, 0, len(st.Counters))
	for t := range st.Counters {
		types = append(types, t)
	}
	slices.Sort(types)
	for _, t := range types {
		fmt.Fprintf(tw, "  %s\t%d\n", t, st.Counters[t])
	}
	tw.Flush()
}

func printViolations(w io.Writer, vs []proctor.Violation) {
	if len(vs) == 0 {
		return
	}
	fmt.Fprintln(w, "\nVIOLATIONS")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, v := range vs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			v.Timestamp.Format("15:04:05.000"), v.Severity, v.Type, v.Message)
	}
	tw.Flush()
}

func printAudit(w io.Writer, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintln(w, "\nAUDIT LOG")
	for _, line := range lines {
		fmt.Fprintln(w, "  "+line)
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
