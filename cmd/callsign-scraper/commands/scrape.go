package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bizkut/callsignscrapper/registry"
	"github.com/bizkut/callsignscrapper/scraper"
)

var (
	scrapeFresh  bool
	scrapeResume bool
)

func init() {
	scrapeCmd.Flags().BoolVar(&scrapeFresh, "fresh", false, "Discard stored records and the checkpoint, then scrape from page 1. Takes precedence over --resume.")
	scrapeCmd.Flags().BoolVar(&scrapeResume, "resume", false, "Resume from the checkpoint (the default whenever one exists).")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrapes the register into the local store, resuming from the last checkpoint.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		reg := a.cfg.Registry
		client, err := registry.New(registry.Config{
			BaseURL:       reg.BaseURL,
			ApparatusType: reg.ApparatusType,
			UserAgent:     reg.UserAgent,
			Timeout:       reg.Timeout,
			Retries:       reg.Retries,
			RetryWait:     reg.RetryWait,
			NavigateDelay: reg.NavigateDelay,
			Logger:        a.log.Named("registry"),
		})
		if err != nil {
			return err
		}

		runner, err := scraper.NewRunner(scraper.RunnerConfig{
			Fresh:  scrapeFresh,
			Resume: scrapeResume,
			Driver: a.cfg.Session,
			Pacing: a.cfg.Pacing,
			Logger: a.log.Named("scraper"),
		}, a.store, client)
		if err != nil {
			return err
		}

		sum, err := runner.Run(cmd.Context())
		printSummary(cmd.OutOrStdout(), sum)
		if errors.Is(err, context.Canceled) {
			a.log.Warn("scrape interrupted, run again to resume", zap.Int("last_page", sum.LastPage))
		}
		return err
	},
}

func printSummary(w io.Writer, sum scraper.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Scrape summary")
	start := fmt.Sprintf("%d", sum.StartPage)
	if sum.Resumed {
		start += " (resumed)"
	}
	t.AppendRows([]table.Row{
		{"Session", sum.SessionID},
		{"Start page", start},
		{"Last page", sum.LastPage},
		{"Records found", sum.Found},
		{"Added", sum.Added},
		{"Updated", sum.Updated},
		{"Total stored", sum.Total},
		{"Rotations", sum.Rotations},
		{"Blocks", sum.Blocks},
		{"Elapsed", sum.Elapsed.Round(time.Second)},
	})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
