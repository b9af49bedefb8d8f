package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewatch/internal/results"
	"github.com/xkilldash9x/gatewatch/internal/store"
)

type historyReader interface {
	RecentResults(ctx context.Context, site string, limit int) ([]store.HistoryRow, error)
}

// openHistory is swapped in tests.
var openHistory = func(ctx context.Context, url string, logger *zap.Logger) (historyReader, func(), error) {
	return store.Open(ctx, url, logger)
}

func newHistoryCmd() *cobra.Command {
	var (
		site  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent gateway results from the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			reader, cleanup, err := openHistory(cmd.Context(), cfg.Database.URL, loggerFrom(cmd))
			if err != nil {
				return err
			}
			defer cleanup()

			rows, err := reader.RecentResults(cmd.Context(), site, limit)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No results recorded for %s\n", site)
				return nil
			}

			loc := cfg.Run.Location()
			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				table = append(table, []string{
					r.ObservedAt.In(loc).Format("2006-01-02 15:04:05"),
					r.Option, r.Method, r.Channel, orDash(r.Bank),
					r.Verdict, r.Reason,
				})
			}
			return renderTable(cmd.OutOrStdout(),
				[]string{"Time", "Option", "Method", "Channel", "Bank", "Verdict", "Reason"},
				table,
				func(row []string) bool { return row[5] != results.Success.String() },
			)
		},
	}

	cmd.Flags().StringVar(&site, "site", "", "site name")
	cmd.Flags().IntVar(&limit, "limit", 50, "number of results to show")
	_ = cmd.MarkFlagRequired("site")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
