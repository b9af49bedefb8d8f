package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewatch/internal/config"
	"github.com/xkilldash9x/gatewatch/internal/orchestrator"
	"github.com/xkilldash9x/gatewatch/internal/service"
)

// ErrIncompleteRuns is returned when at least one site run did not finish.
var ErrIncompleteRuns = errors.New("one or more site runs were incomplete")

type runFlags struct {
	all         bool
	concurrency int
	headless    bool
	dryRun      bool
}

func newRunCmd(factory service.ComponentFactory) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run [site...]",
		Short: "Check the deposit gateways of the named sites",
		Long: `Walks every deposit option of each site, submits the minimum amount and
classifies what happens. Results are sent to Telegram, appended to the
daily spreadsheet and stored in the history database when configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			logger := loggerFrom(cmd)
			applyRunFlags(cmd, cfg, flags)

			profiles, err := config.LoadSiteProfiles(cfg.SitesDir)
			if err != nil {
				return err
			}
			sites, err := orchestrator.Select(profiles, args, flags.all)
			if err != nil {
				return err
			}

			components, err := factory.Create(cmd.Context(), cfg, service.Options{DryRun: flags.dryRun}, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown(logger)

			batch, runErr := components.Orchestrator.Run(cmd.Context(), sites)
			if err := printBatch(cmd.OutOrStdout(), batch); err != nil {
				logger.Warn("Failed to print run summary.", zap.Error(err))
			}
			if runErr != nil {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				logger.Error("Run finished with incomplete sites.", zap.Int("failed", batch.Failed()), zap.Error(runErr))
				return fmt.Errorf("%w: %d of %d", ErrIncompleteRuns, batch.Failed(), len(sites))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flags.all, "all", false, "run every site in the sites directory")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "sites to run at once (overrides run.concurrency)")
	cmd.Flags().BoolVar(&flags.headless, "headless", true, "run Chrome without a window (overrides browser.headless)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "log messages instead of sending them to Telegram")
	return cmd
}

// applyRunFlags lets explicitly set flags win over the loaded configuration.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, flags runFlags) {
	if cmd.Flags().Changed("concurrency") && flags.concurrency > 0 {
		cfg.Run.Concurrency = flags.concurrency
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = flags.headless
	}
}

func printBatch(w io.Writer, batch orchestrator.Batch) error {
	rows := make([][]string, 0, len(batch.Outcomes))
	for i, out := range batch.Outcomes {
		status := "complete"
		if batch.Errors[i] != nil {
			status = "incomplete"
		}
		rows = append(rows, []string{
			out.Site,
			status,
			strconv.Itoa(out.Attempts),
			strconv.Itoa(len(out.Summary.Succeeded)),
			strconv.Itoa(len(out.Summary.Failed)),
			strconv.Itoa(len(out.Summary.Unknown)),
			strconv.Itoa(len(out.Summary.NotReached)),
		})
	}
	return renderTable(w,
		[]string{"Site", "Status", "Attempts", "Success", "Failed", "Unknown", "Not reached"},
		rows,
		func(row []string) bool { return row[1] != "complete" || row[4] != "0" },
	)
}
