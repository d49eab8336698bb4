package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fcfswatch/internal/app"
	"fcfswatch/internal/campaign"
	"fcfswatch/internal/monitor"
)

var (
	okMark   = color.New(color.FgGreen).Sprint("✓")
	failMark = color.New(color.FgRed).Sprint("✗")
	dim      = color.New(color.Faint).SprintFunc()
	bold     = color.New(color.Bold).SprintFunc()
)

// withHeadless runs fn against a transport-less app and closes it.
func withHeadless(ctx context.Context, opts *rootOptions, fn func(*monitor.Service) error) error {
	a, err := app.NewHeadless(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a.Monitor())
}

func newScanCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "dry-run one scan; nothing is sent or recorded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHeadless(cmd.Context(), opts, func(mon *monitor.Service) error {
				rep, err := mon.TestScan(cmd.Context())
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return writeJSON(cmd.OutOrStdout(), rep)
				}
				printScan(cmd.OutOrStdout(), rep, limit)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max campaigns to print")
	return cmd
}

func printScan(w io.Writer, rep monitor.TestReport, limit int) {
	fmt.Fprintf(w, "%s mode=%s scopes=%d took=%s\n", bold("scan"), rep.Mode, len(rep.Scopes), rep.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "records %s, merged %s, fcfs %d, unseen %d\n",
		humanize.Comma(int64(rep.Records)), humanize.Comma(int64(rep.Merged)), len(rep.Campaigns), rep.Unseen)
	if rep.Anomalies > 0 {
		fmt.Fprintf(w, "%s %d malformed records skipped\n", failMark, rep.Anomalies)
	}
	for _, err := range rep.Errors {
		fmt.Fprintf(w, "%s %v\n", failMark, err)
	}
	for i, c := range rep.Campaigns {
		if limit > 0 && i >= limit {
			fmt.Fprintln(w, dim(fmt.Sprintf("… and %d more", len(rep.Campaigns)-limit)))
			break
		}
		fmt.Fprintf(w, "  %s %s\n    %s\n", c.Status, c.Name, dim(campaign.URL(c.Space.ID, c)))
	}
}

func newHealthCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "probe every catalog source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHeadless(cmd.Context(), opts, func(mon *monitor.Service) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				hc := mon.HealthCheck(ctx)
				if opts.jsonOut {
					if err := writeJSON(cmd.OutOrStdout(), hc); err != nil {
						return err
					}
				} else {
					printHealth(cmd.OutOrStdout(), hc)
				}
				if !hc.Healthy {
					return fmt.Errorf("no catalog source reachable")
				}
				return nil
			})
		},
	}
}

func printHealth(w io.Writer, hc monitor.Health) {
	for _, s := range hc.Sources {
		if s.Up {
			fmt.Fprintf(w, "%s %-10s %-10s %s\n", okMark, s.Name, dim(s.Tier), s.Latency.Round(time.Millisecond))
			continue
		}
		fmt.Fprintf(w, "%s %-10s %-10s %s\n", failMark, s.Name, dim(s.Tier), s.Err)
	}
}

func newStatsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "print persisted counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHeadless(cmd.Context(), opts, func(mon *monitor.Service) error {
				st, err := mon.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return writeJSON(cmd.OutOrStdout(), st)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "active recipients  %s\n", humanize.Comma(st.Counts.ActiveRecipients))
				fmt.Fprintf(w, "watched spaces     %s\n", humanize.Comma(st.Counts.Spaces))
				fmt.Fprintf(w, "campaigns detected %s\n", humanize.Comma(st.Counts.Detected))
				fmt.Fprintf(w, "notifications      %s\n", humanize.Comma(st.Counts.Notified))
				return nil
			})
		},
	}
}
