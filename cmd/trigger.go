package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

func newRunDueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-due",
		Short: "Crawl every due source once and exit",
		Long: `Runs one scheduler pass. Exits 3 when nothing was due and 1 when any
crawl in the pass ended in error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.RunDue(cmd.Context())
			if err != nil {
				return failed(err)
			}
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.Due == 0 {
				return noOp("no sources due")
			}
			if report.Failed > 0 {
				for _, o := range report.Outcomes {
					if o.Status == crawler.OutcomeError {
						return failedWith(o.Reason, fmt.Sprintf("%d of %d crawls failed; first: source %s: %s",
							report.Failed, report.Dispatched, o.SourceID, o.Message))
					}
				}
			}
			return nil
		},
	}
}

func newRunSourceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-source <source-id>",
		Short: "Crawl one source now, regardless of its schedule",
		Long: `Crawls a single source immediately and records the outcome. Exits 3 when
another worker already holds the source's lease.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			outcome, err := appInstance.RunSource(cmd.Context(), args[0])
			if errors.Is(err, crawler.ErrLockHeld) {
				return noOp(fmt.Sprintf("source %s is already being crawled", args[0]))
			}
			if err != nil {
				return failed(err)
			}
			if err := writeJSON(cmd.OutOrStdout(), outcome); err != nil {
				return err
			}
			if outcome.Status == crawler.OutcomeError {
				return failedWith(outcome.Reason, outcome.Message)
			}
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
