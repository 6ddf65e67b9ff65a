package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	apperrors "etfwatch/internal/errors"
	"etfwatch/internal/models"
	"etfwatch/internal/reconcile"
)

// addSnapshotCommands adds the commands that record new snapshots.
func addSnapshotCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newIngestCmd(app))
	rootCmd.AddCommand(newBatchCmd(app))
}

func newIngestCmd(app *App) *cobra.Command {
	var (
		fundID      string
		noArtifacts bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [file|-]",
		Short: "Record one fund's snapshot and show what changed",
		Long: `Record a holdings snapshot for one fund and compare it with its baseline.

The snapshot is read from the given JSON file, or from stdin when the
argument is "-" or omitted.`,
		Example: `  etfwatch ingest --fund 00981A 00981A.json
  fetch-holdings 00981A | etfwatch ingest --fund 00981A`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}

			in := reconcile.Input{FundID: fundID}
			in.Snapshot, in.Err = readSnapshotFile(path, cmd.InOrStdin())
			if in.Err != nil {
				return in.Err
			}
			return app.runBatch(cmd, []reconcile.Input{in}, !noArtifacts)
		},
	}

	cmd.Flags().StringVarP(&fundID, "fund", "f", "", "fund id (required)")
	cmd.Flags().BoolVar(&noArtifacts, "no-artifacts", false, "skip regenerating the report files")
	_ = cmd.MarkFlagRequired("fund")

	return cmd
}

func newBatchCmd(app *App) *cobra.Command {
	var (
		funds       []string
		noArtifacts bool
	)

	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Record the snapshots of all configured funds",
		Long: `Record one snapshot per fund from <dir>/<fund>.json and compare each with
its baseline. Funds default to the configured ones. A fund whose file is
missing or unreadable is reported as failed without stopping the others.`,
		Example: `  etfwatch batch ./downloads
  etfwatch batch ./downloads --fund 00981A --fund 00980A`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(funds) == 0 {
				funds = app.Config.FundIDs()
			}
			if len(funds) == 0 {
				return apperrors.NewValidationError("funds", 0, "no funds configured; pass --fund")
			}
			return app.runBatch(cmd, readBatchDir(args[0], funds), !noArtifacts)
		},
	}

	cmd.Flags().StringSliceVarP(&funds, "fund", "f", nil, "fund ids to process (default: configured funds)")
	cmd.Flags().BoolVar(&noArtifacts, "no-artifacts", false, "skip regenerating the report files")

	return cmd
}

// runBatch records inputs under the run lock and renders the results.
func (a *App) runBatch(cmd *cobra.Command, inputs []reconcile.Input, artifacts bool) error {
	engine, err := a.Engine()
	if err != nil {
		return err
	}

	var res reconcile.BatchResult
	err = a.exclusive(cmd.Context(), func(ctx context.Context) error {
		if artifacts {
			res = engine.Run(ctx, inputs)
		} else {
			res = engine.Process(ctx, inputs)
		}
		return nil
	})
	if err != nil {
		return err
	}

	output := NewOutput(cmd)
	if output.IsJSON() {
		if err := output.JSON(newBatchView(res)); err != nil {
			return err
		}
	} else {
		renderBatch(output, res)
	}

	if failed := res.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d funds failed: %w", len(failed), len(res.Funds), res.Err())
	}
	return res.Err()
}

// readBatchDir loads <dir>/<fund>.json for each fund. Read failures are
// kept on the returned inputs.
func readBatchDir(dir string, funds []string) []reconcile.Input {
	inputs := make([]reconcile.Input, 0, len(funds))
	for _, id := range funds {
		in := reconcile.Input{FundID: id}
		in.Snapshot, in.Err = readSnapshotFile(filepath.Join(dir, id+".json"), nil)
		inputs = append(inputs, in)
	}
	return inputs
}

// readSnapshotFile decodes one snapshot from path, or from stdin for "-".
func readSnapshotFile(path string, stdin io.Reader) (models.Snapshot, error) {
	if path == "-" {
		if stdin == nil {
			stdin = os.Stdin
		}
		return decodeSnapshot(stdin, "<stdin>")
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.Snapshot{}, apperrors.Wrapf(apperrors.ErrNotFound, "snapshot file %s", path)
		}
		return models.Snapshot{}, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()
	return decodeSnapshot(f, path)
}

func decodeSnapshot(r io.Reader, name string) (models.Snapshot, error) {
	var snap models.Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return models.Snapshot{}, apperrors.NewMalformedDataError(name, "decoding snapshot", err)
	}
	return snap, nil
}

// batchView is the JSON form of a BatchResult.
type batchView struct {
	RunID       string           `json:"run_id"`
	Funds       []fundResultView `json:"funds"`
	ArtifactErr string           `json:"artifact_error,omitempty"`
}

type fundResultView struct {
	FundID       string                  `json:"fund_id"`
	FundName     string                  `json:"fund_name"`
	Date         string                  `json:"date,omitempty"`
	BaselineDate string                  `json:"baseline_date,omitempty"`
	Outcome      string                  `json:"outcome"`
	Stale        bool                    `json:"stale,omitempty"`
	Replaced     bool                    `json:"replaced,omitempty"`
	Price        *models.PriceInfo       `json:"price_info,omitempty"`
	Major        []reconcile.ChangeEntry `json:"major"`
	Detailed     []reconcile.ChangeEntry `json:"detailed"`
	Error        string                  `json:"error,omitempty"`
}

func newBatchView(res reconcile.BatchResult) batchView {
	v := batchView{RunID: res.RunID, Funds: make([]fundResultView, 0, len(res.Funds))}
	if res.ArtifactErr != nil {
		v.ArtifactErr = res.ArtifactErr.Error()
	}
	for _, f := range res.Funds {
		fv := fundResultView{
			FundID:       f.FundID,
			FundName:     f.FundName,
			Date:         f.Date.String(),
			BaselineDate: f.BaselineDate.String(),
			Outcome:      string(f.Outcome),
			Stale:        f.Stale,
			Replaced:     f.Replaced,
			Major:        changeEntries(f.Changes.Major),
			Detailed:     changeEntries(f.Changes.Detailed),
		}
		if f.Outcome != reconcile.OutcomeFailed {
			price := f.PriceInfo
			fv.Price = &price
		}
		if f.Err != nil {
			fv.Error = f.Err.Error()
		}
		v.Funds = append(v.Funds, fv)
	}
	return v
}

func changeEntries(records []models.ChangeRecord) []reconcile.ChangeEntry {
	out := make([]reconcile.ChangeEntry, 0, len(records))
	for _, r := range records {
		out = append(out, reconcile.NewChangeEntry(r))
	}
	return out
}

func renderBatch(output *Output, res reconcile.BatchResult) {
	for i, f := range res.Funds {
		if i > 0 {
			output.Println()
		}
		renderFundResult(output, f)
	}
	if res.ArtifactErr != nil {
		output.Println()
		output.Error("Report files not updated: %v", res.ArtifactErr)
	}
}

func renderFundResult(output *Output, f reconcile.FundResult) {
	title := f.FundID
	if f.FundName != "" && f.FundName != f.FundID {
		title += " " + f.FundName
	}
	output.Bold("%s  %s", title, f.Date)

	switch f.Outcome {
	case reconcile.OutcomeFailed:
		output.Error("  ✗ %v", f.Err)
		return
	case reconcile.OutcomeBootstrap:
		output.Info("  First snapshot stored; it is the baseline for the next run.")
	case reconcile.OutcomeNoPriorDay:
		output.Info("  Same-day snapshot replaced; no earlier day to compare with.")
	case reconcile.OutcomeCompared:
		output.Dim("  compared with %s", f.BaselineDate)
	}
	if f.Stale {
		output.Warning("  ⚠ source marked this snapshot as not the latest")
	}
	if f.PriceInfo.Price != "" {
		output.Printf("  Price %s\n", FormatQuote(f.PriceInfo))
	}
	if f.Outcome != reconcile.OutcomeCompared {
		return
	}
	if f.Changes.Empty() {
		output.Success("  No significant changes")
		return
	}

	if len(f.Changes.Major) > 0 {
		output.Println()
		output.Bold("  Major changes")
		renderChanges(output, f.Changes.Major, true)
	}
	if len(f.Changes.Detailed) > 0 {
		output.Println()
		output.Bold("  All changes")
		renderChanges(output, f.Changes.Detailed, false)
	}
}

// renderChanges prints records as a table. Counts are shown in lots.
func renderChanges(output *Output, records []models.ChangeRecord, annotate bool) {
	table := NewTable(output, "  Type", "Code", "Name", "Lots", "Change", "Weight", "")
	for _, r := range records {
		note := ""
		if annotate && r.ShowWeight {
			note = output.WeightDelta(r.WeightDeltaPercent)
		}
		table.AddRow(
			"  "+changeLabel(r.Type),
			r.Code,
			TruncateString(r.Name, 16),
			FormatCount(models.ToLots(r.CurrentCount)),
			output.CountDelta(r.CountDeltaLots),
			FormatWeight(r.CurrentWeight),
			note,
		)
	}
	table.Render()
}

func changeLabel(t models.ChangeType) string {
	switch t {
	case models.ChangeNew:
		return "+ new"
	case models.ChangeRemoved:
		return "- removed"
	default:
		return strings.ToLower(string(t))
	}
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
