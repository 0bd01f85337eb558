package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/cwygoda/mediagrab/internal/adapter/sqlite"
	"github.com/cwygoda/mediagrab/internal/config"
	"github.com/cwygoda/mediagrab/internal/domain"
)

// HistoryAction prints recent terminal outcomes from the ledger.
func HistoryAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("env"), cmd.String("config"))
	if err != nil {
		return err
	}
	history, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer history.Close()

	outcomes, err := history.Recent(ctx, cmd.Int("limit"))
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	if len(outcomes) == 0 {
		fmt.Println("no downloads recorded")
		return nil
	}
	counts, err := history.Counts(ctx)
	if err != nil {
		return fmt.Errorf("count history: %w", err)
	}

	renderOutcomes(os.Stdout, outcomes)
	fmt.Println(summarize(counts))
	return nil
}

func renderOutcomes(w io.Writer, outcomes []domain.Outcome) {
	table := tablewriter.NewWriter(w)
	table.Header("Finished", "Platform", "Media", "Status", "Attempts", "Result")

	for _, o := range outcomes {
		table.Append(
			humanize.Time(o.FinishedAt),
			o.Platform,
			string(o.Media),
			string(o.Status),
			fmt.Sprintf("%d", o.Attempts),
			outcomeResult(o),
		)
	}

	table.Render()
}

func outcomeResult(o domain.Outcome) string {
	if o.Status == domain.StatusDone {
		return fmt.Sprintf("%s (%s)", truncate(o.Filename, 48), humanize.Bytes(uint64(o.Size)))
	}
	if o.Kind != "" {
		return fmt.Sprintf("%s: %s", o.Kind, truncate(o.Error, 48))
	}
	return truncate(o.Error, 48)
}

func summarize(counts map[domain.JobStatus]int) string {
	parts := make([]string, 0, len(counts))
	total := 0
	for status, n := range counts {
		parts = append(parts, fmt.Sprintf("%s %s", humanize.Comma(int64(n)), status))
		total += n
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s total: %s", humanize.Comma(int64(total)), strings.Join(parts, ", "))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
