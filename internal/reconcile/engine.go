package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"etfwatch/internal/config"
	apperrors "etfwatch/internal/errors"
	"etfwatch/internal/logging"
	"etfwatch/internal/models"
	"etfwatch/internal/security"
	"etfwatch/internal/store"
)

// Input is one freshly acquired snapshot for a fund. A non-nil Err marks
// a fund whose snapshot could not be acquired; it is reported as failed.
type Input struct {
	FundID   string
	Snapshot models.Snapshot
	Err      error
}

// Outcome is how a fund's update ended.
type Outcome string

const (
	// OutcomeCompared means the snapshot was stored and compared to a baseline.
	OutcomeCompared Outcome = "compared"
	// OutcomeBootstrap means the fund had no history; the snapshot is the new baseline.
	OutcomeBootstrap Outcome = "bootstrap"
	// OutcomeNoPriorDay means a same-day rerun with no earlier day to compare against.
	OutcomeNoPriorDay Outcome = "no_prior_day"
	// OutcomeFailed means the update did not complete; see FundResult.Err.
	OutcomeFailed Outcome = "failed"
)

// FundResult is the outcome of processing one fund's snapshot.
type FundResult struct {
	FundID       string
	FundName     string
	Date         models.Date
	BaselineDate models.Date
	PriceInfo    models.PriceInfo
	Outcome      Outcome
	Replaced     bool
	Stale        bool
	Changes      models.ChangeSet
	Err          error
}

// BatchResult collects the per-fund results of one run.
type BatchResult struct {
	RunID       string
	Started     time.Time
	Funds       []FundResult
	ArtifactErr error
}

// Failed returns the results that did not complete.
func (b BatchResult) Failed() []FundResult {
	var out []FundResult
	for _, f := range b.Funds {
		if f.Outcome == OutcomeFailed {
			out = append(out, f)
		}
	}
	return out
}

// Err joins every fund and artifact error of the batch, or returns nil.
func (b BatchResult) Err() error {
	var errs []error
	for _, f := range b.Failed() {
		errs = append(errs, fmt.Errorf("fund %s: %w", f.FundID, f.Err))
	}
	if b.ArtifactErr != nil {
		errs = append(errs, b.ArtifactErr)
	}
	return apperrors.Join(errs...)
}

// Engine runs one reconciliation batch: record each snapshot, compare it
// with its baseline, then regenerate the derived artifacts.
type Engine struct {
	cfg        *config.Config
	store      store.SnapshotStore
	classifier *Classifier
	artifacts  *Artifacts
	logger     zerolog.Logger
}

// NewEngine creates an engine. cfg must already be validated.
func NewEngine(cfg *config.Config, s store.SnapshotStore, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		store:      s,
		classifier: NewClassifier(cfg.Thresholds),
		artifacts:  NewArtifacts(cfg, s, logger),
		logger:     logger,
	}
}

// Artifacts returns the engine's artifact builder.
func (e *Engine) Artifacts() *Artifacts { return e.artifacts }

// Process records and classifies each input in order. A failing fund does
// not stop the others; its error is kept in its FundResult.
func (e *Engine) Process(ctx context.Context, inputs []Input) BatchResult {
	res := BatchResult{RunID: uuid.NewString(), Started: time.Now()}
	logger := logging.WithOperation(logging.WithRun(e.logger, res.RunID), "batch")
	logger.Info().Int("funds", len(inputs)).Msg("Batch started")

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			res.Funds = append(res.Funds, FundResult{FundID: in.FundID, Outcome: OutcomeFailed, Err: err})
			continue
		}
		res.Funds = append(res.Funds, e.processFund(ctx, logging.WithFund(logger, in.FundID), in))
	}

	logger.Info().
		Int("funds", len(res.Funds)).
		Int("failed", len(res.Failed())).
		Dur("duration", time.Since(res.Started)).
		Msg("Batch finished")
	return res
}

// Run processes inputs and then rewrites both derived artifacts. Artifact
// failures are reported in BatchResult.ArtifactErr.
func (e *Engine) Run(ctx context.Context, inputs []Input) BatchResult {
	res := e.Process(ctx, inputs)
	res.ArtifactErr = e.WriteArtifacts(ctx)
	return res
}

// WriteArtifacts regenerates the change report and the lifecycle artifact.
func (e *Engine) WriteArtifacts(ctx context.Context) error {
	var errs []error
	if _, err := e.artifacts.WriteReport(ctx); err != nil {
		errs = append(errs, fmt.Errorf("change report: %w", err))
	}
	if _, err := e.artifacts.WriteHistory(ctx); err != nil {
		errs = append(errs, fmt.Errorf("lifecycle history: %w", err))
	}
	return apperrors.Join(errs...)
}

func (e *Engine) processFund(ctx context.Context, logger zerolog.Logger, in Input) FundResult {
	if in.Err != nil {
		logger.Error().Err(in.Err).Msg("Snapshot acquisition failed")
		return FundResult{
			FundID:   in.FundID,
			FundName: e.cfg.FundName(in.FundID),
			Outcome:  OutcomeFailed,
			Err:      in.Err,
		}
	}

	snap := in.Snapshot
	if e.cfg.Filter.NumericCodesOnly {
		snap = snap.Filter(IsNumericCode)
	}

	fr := FundResult{
		FundID:    in.FundID,
		FundName:  e.cfg.FundName(in.FundID),
		Date:      snap.Date,
		PriceInfo: snap.PriceInfo,
		Stale:     !snap.IsLatest,
	}
	if fr.Stale {
		logger.Warn().Str("date", snap.Date.String()).Msg("Snapshot is not the latest published data, comparing anyway")
	}
	if err := security.ValidateFundID(in.FundID); err != nil {
		fr.Outcome, fr.Err = OutcomeFailed, err
		logger.Error().Err(err).Msg("Skipping fund")
		return fr
	}
	if len(snap.Holdings) == 0 {
		fr.Outcome = OutcomeFailed
		fr.Err = apperrors.NewValidationError("holdings", 0, "snapshot has no holdings")
		logger.Error().Err(fr.Err).Msg("Skipping fund")
		return fr
	}
	if err := security.ValidateSnapshot(snap); err != nil {
		fr.Outcome, fr.Err = OutcomeFailed, err
		logger.Error().Err(err).Msg("Skipping fund")
		return fr
	}

	rec, err := e.store.Record(ctx, in.FundID, snap)
	if err != nil {
		fr.Outcome = OutcomeFailed
		fr.Err = err
		logger.Error().Err(err).Msg("Failed to record snapshot")
		return fr
	}
	fr.Replaced = rec.Replaced

	switch {
	case rec.Baseline != nil:
		fr.Outcome = OutcomeCompared
		fr.BaselineDate = rec.Baseline.Date
		fr.Changes = e.classifier.Classify(rec.Baseline, snap)
	case rec.Replaced:
		fr.Outcome = OutcomeNoPriorDay
	default:
		fr.Outcome = OutcomeBootstrap
	}

	for _, c := range fr.Changes.Major {
		logging.LogChange(logger, "major", c)
	}
	logger.Info().
		Str("outcome", string(fr.Outcome)).
		Str("date", fr.Date.String()).
		Str("baseline", fr.BaselineDate.String()).
		Int("major", len(fr.Changes.Major)).
		Int("detailed", len(fr.Changes.Detailed)).
		Msg("Fund processed")
	return fr
}
