package cli

import (
	"context"

	"github.com/spf13/cobra"

	apperrors "etfwatch/internal/errors"
	"etfwatch/internal/models"
	"etfwatch/internal/reconcile"
	"etfwatch/internal/store"
)

// addReportCommands adds the read-side commands and artifact regeneration.
func addReportCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newReportCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
	rootCmd.AddCommand(newBaselineCmd(app))
	rootCmd.AddCommand(newFundsCmd(app))
	rootCmd.AddCommand(newRebuildCmd(app))
}

func newReportCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Show the latest day-over-day changes of every configured fund",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.Engine()
			if err != nil {
				return err
			}
			report, err := engine.Artifacts().BuildReport(cmd.Context())
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(report)
			}
			if len(report) == 0 {
				output.Dim("No fund has two stored snapshots yet.")
				return nil
			}
			for i, id := range sortedKeys(report) {
				if i > 0 {
					output.Println()
				}
				renderFundReport(output, id, report[id])
			}
			return nil
		},
	}
}

func renderFundReport(output *Output, id string, r reconcile.FundReport) {
	output.Bold("%s %s  %s → %s", id, r.Name, r.PreviousDate, r.LatestDate)
	if r.Price != "" {
		output.Printf("  Price %s\n", FormatQuote(models.PriceInfo{
			Price:         r.Price,
			ChangeValue:   r.ChangeValue,
			ChangePercent: r.ChangePercent,
		}))
	}
	if len(r.DailyChanges) == 0 {
		output.Success("  No significant changes")
		return
	}

	table := NewTable(output, "  Type", "Code", "Name", "Lots", "Change", "Weight", "Weight Δ")
	for _, e := range r.DailyChanges {
		table.AddRow(
			"  "+changeLabel(models.ChangeType(e.Type)),
			e.Code,
			TruncateString(e.Name, 16),
			FormatCount(e.CurrentCount),
			output.CountDelta(e.CountChange),
			FormatWeight(e.CurrentWeight),
			output.WeightDelta(e.WeightChange),
		)
	}
	table.Render()
}

func newHistoryCmd(app *App) *cobra.Command {
	var fundID string

	cmd := &cobra.Command{
		Use:   "history <code>",
		Short: "Show the holding lifecycle of one instrument",
		Long: `Show when an instrument was first bought, added to, reduced and sold out,
per fund. Without --fund every configured fund is searched.`,
		Example: `  etfwatch history 2330
  etfwatch history 2330 --fund 00981A`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := args[0]
			s, err := app.Store()
			if err != nil {
				return err
			}
			builder := reconcile.NewHistoryBuilder(s, app.Config.Thresholds, app.Logger)

			funds := app.Config.FundIDs()
			if fundID != "" {
				funds = []string{fundID}
			}

			lifecycles, err := collectLifecycles(cmd.Context(), builder, funds, code)
			if err != nil {
				return err
			}
			if len(lifecycles) == 0 {
				if fundID != "" {
					return apperrors.NewNotFoundError(fundID, code)
				}
				return apperrors.NewNotFoundError("any configured fund", code)
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(lifecycles)
			}
			for i, lc := range lifecycles {
				if i > 0 {
					output.Println()
				}
				renderLifecycle(output, app.Config.FundName(lc.FundID), lc)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&fundID, "fund", "f", "", "restrict to one fund")
	return cmd
}

// collectLifecycles builds code's lifecycle in each fund, skipping funds
// that never held it.
func collectLifecycles(ctx context.Context, b *reconcile.HistoryBuilder, funds []string, code string) ([]models.Lifecycle, error) {
	var out []models.Lifecycle
	for _, id := range funds {
		events, err := b.Build(ctx, id, code)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if lc, ok := reconcile.Rollup(id, code, events); ok {
			out = append(out, lc)
		}
	}
	return out, nil
}

func renderLifecycle(output *Output, fundName string, lc models.Lifecycle) {
	output.Bold("%s in %s %s", lc.Code, lc.FundID, fundName)
	output.Printf("  Current %s lots (%s)  max %s on %s  min %s on %s\n",
		FormatCount(lc.CurrentCount), FormatWeight(lc.CurrentWeight),
		FormatCount(lc.MaxCount), lc.MaxCountDate,
		FormatCount(lc.MinCount), lc.MinCountDate)

	table := NewTable(output, "  Date", "Status", "Lots", "Change", "Weight", "Weight Δ")
	for _, e := range lc.Events {
		table.AddRow(
			"  "+e.Date.String(),
			string(e.Status),
			FormatCount(e.CountLots),
			output.CountDelta(e.CountDeltaLots),
			FormatWeight(e.WeightPercent),
			output.WeightDelta(e.WeightDeltaPercent),
		)
	}
	table.Render()
}

func newBaselineCmd(app *App) *cobra.Command {
	var (
		fundID string
		date   string
	)

	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Show which stored snapshot a new snapshot would be compared with",
		RunE: func(cmd *cobra.Command, args []string) error {
			next := models.Today()
			if date != "" {
				d, err := models.ParseDate(date)
				if err != nil {
					return apperrors.NewValidationError("date", date, "expected YYYY/MM/DD")
				}
				next = d
			}

			s, err := app.Store()
			if err != nil {
				return err
			}
			baseline, err := s.SelectBaseline(cmd.Context(), fundID, models.Snapshot{Date: next})
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				v := map[string]string{"fund_id": fundID, "date": next.String()}
				if baseline != nil {
					v["baseline_date"] = baseline.Date.String()
				}
				return output.JSON(v)
			}
			if baseline == nil {
				output.Info("%s: no baseline for %s; the snapshot would start the history.", fundID, next)
				return nil
			}
			output.Printf("%s: a snapshot dated %s is compared with %s (%d holdings)\n",
				fundID, next, baseline.Date, len(baseline.Holdings))
			return nil
		},
	}

	cmd.Flags().StringVarP(&fundID, "fund", "f", "", "fund id (required)")
	cmd.Flags().StringVar(&date, "date", "", "snapshot date YYYY/MM/DD (default: today)")
	_ = cmd.MarkFlagRequired("fund")
	return cmd
}

// fundSummary describes one fund's stored history.
type fundSummary struct {
	FundID    string `json:"fund_id"`
	Name      string `json:"name"`
	Snapshots int    `json:"snapshots"`
	First     string `json:"first_date"`
	Latest    string `json:"latest_date"`
	Holdings  int    `json:"holdings"`
}

func newFundsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "funds",
		Short: "List funds with stored snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.Store()
			if err != nil {
				return err
			}
			ids, err := s.Funds(cmd.Context())
			if err != nil {
				return err
			}

			summaries := make([]fundSummary, 0, len(ids))
			for _, id := range ids {
				h, err := store.LoadHistory(cmd.Context(), s, id, app.Logger)
				if err != nil {
					return err
				}
				sum := fundSummary{FundID: id, Name: app.Config.FundName(id), Snapshots: h.Len()}
				if last := h.Last(); last != nil {
					sum.First = h.Snapshots[0].Date.String()
					sum.Latest = last.Date.String()
					sum.Holdings = len(last.Holdings)
				}
				summaries = append(summaries, sum)
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(summaries)
			}
			if len(summaries) == 0 {
				output.Dim("No snapshots stored in %s", app.Config.Data.Dir)
				return nil
			}
			table := NewTable(output, "Fund", "Name", "Snapshots", "First", "Latest", "Holdings")
			for _, sum := range summaries {
				table.AddRow(sum.FundID, TruncateString(sum.Name, 20), FormatCount(int64(sum.Snapshots)),
					sum.First, sum.Latest, FormatCount(int64(sum.Holdings)))
			}
			table.Render()
			return nil
		},
	}
}

func newRebuildCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Regenerate the change report and lifecycle files from the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.Engine()
			if err != nil {
				return err
			}
			err = app.exclusive(cmd.Context(), engine.WriteArtifacts)
			output := NewOutput(cmd)
			if err != nil {
				output.Error("Rebuild failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"report":  app.Config.ReportPath(),
					"history": app.Config.HistoryPath(),
				})
			}
			output.Success("✓ Wrote %s", app.Config.ReportPath())
			output.Success("✓ Wrote %s", app.Config.HistoryPath())
			return nil
		},
	}
}
