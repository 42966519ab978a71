package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"proctord/internal/report"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <log.json>",
		Short: "Check a sealed session log against its schema and digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), args[0])
		},
	}
}

func runValidate(w io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	l, err := report.Parse(data)
	if errors.Is(err, report.ErrDigestMismatch) {
		return fmt.Errorf("%s: log has been altered since it was sealed", path)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Fprintf(w, "%s: valid\n", path)
	fmt.Fprintf(w, "  session     %s\n", l.SessionID)
	fmt.Fprintf(w, "  duration    %s\n", l.EndedAt.Sub(l.StartedAt))
	fmt.Fprintf(w, "  violations  %d (%d critical)\n", len(l.Violations), l.Critical())
	fmt.Fprintf(w, "  digest      %s\n", l.Digest)
	return nil
}
