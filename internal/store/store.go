// Package store provides durable, date-ordered snapshot storage per fund.
package store

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	apperrors "etfwatch/internal/errors"
	"etfwatch/internal/models"
	"etfwatch/internal/security"
)

// SnapshotStore defines the interface for snapshot persistence.
//
// A fund's history is ordered by date with at most one snapshot per day.
// Appending a snapshot dated like the last stored one replaces it.
type SnapshotStore interface {
	// Append stores snap as the newest snapshot of fundID, replacing the
	// last entry when both carry the same date.
	Append(ctx context.Context, fundID string, snap models.Snapshot) error

	// All returns the chronological history of fundID. An unknown fund
	// yields an empty history and no error. Undecodable data yields an
	// empty history and a *errors.MalformedDataError.
	All(ctx context.Context, fundID string) (models.FundHistory, error)

	// SelectBaseline returns the snapshot next should be compared against,
	// or nil when there is not enough history.
	SelectBaseline(ctx context.Context, fundID string, next models.Snapshot) (*models.Snapshot, error)

	// Record selects the baseline for snap and appends it as one atomic
	// step under the fund's lock.
	Record(ctx context.Context, fundID string, snap models.Snapshot) (RecordResult, error)

	// Funds lists the ids of all funds with stored snapshots, ascending.
	Funds(ctx context.Context) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}

// RecordResult describes the outcome of Record.
type RecordResult struct {
	// Baseline is the snapshot the recorded one should be compared against.
	Baseline *models.Snapshot
	// Replaced is set when a stored snapshot of the same day was overwritten.
	Replaced bool
	// Stored is the number of snapshots held for the fund after the write.
	Stored int
}

// SelectBaseline picks the comparison baseline for next from history,
// which must not yet contain next.
//
// With no history there is no baseline. When the last stored snapshot has
// next's date the run is a same-day rerun, and the snapshot before it is the
// baseline (or none if it does not exist). Otherwise the last snapshot is.
func SelectBaseline(history models.FundHistory, next models.Snapshot) *models.Snapshot {
	n := history.Len()
	if n == 0 {
		return nil
	}
	last := history.Snapshots[n-1]
	if last.Date == next.Date {
		if n < 2 {
			return nil
		}
		prev := history.Snapshots[n-2]
		return &prev
	}
	return &last
}

// mergeSnapshot applies the same-day replace rule to history and returns
// the updated sequence. A snapshot older than the last stored one is rejected.
func mergeSnapshot(fundID string, snapshots []models.Snapshot, snap models.Snapshot) ([]models.Snapshot, bool, error) {
	n := len(snapshots)
	if n == 0 {
		return append(snapshots, snap), false, nil
	}
	last := snapshots[n-1]
	switch {
	case last.Date == snap.Date:
		out := make([]models.Snapshot, n)
		copy(out, snapshots)
		out[n-1] = snap
		return out, true, nil
	case snap.Date.Before(last.Date):
		return nil, false, &apperrors.OutOfOrderError{Fund: fundID, Last: last.Date.String(), Got: snap.Date.String()}
	default:
		return append(snapshots, snap), false, nil
	}
}

func validateSnapshot(fundID string, snap models.Snapshot) error {
	if err := security.ValidateFundID(fundID); err != nil {
		return err
	}
	if snap.Date.IsZero() {
		return apperrors.NewValidationError("data_date", snap.Date, "must be set")
	}
	for code, h := range snap.Holdings {
		if h.Count < 0 {
			return apperrors.NewValidationError("holdings."+code+".count", h.Count, "must be non-negative")
		}
	}
	return nil
}

// fundLocks hands out one mutex per fund id.
type fundLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *fundLocks) get(fundID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[fundID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[fundID] = m
	}
	return m
}

// LoadHistory reads a fund's history and degrades malformed data to an
// empty history after logging it.
func LoadHistory(ctx context.Context, s SnapshotStore, fundID string, logger zerolog.Logger) (models.FundHistory, error) {
	h, err := s.All(ctx, fundID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrMalformedData) {
			logger.Warn().Err(err).Str("fund", fundID).Msg("Stored history is malformed, treating as empty")
			return models.FundHistory{FundID: fundID}, nil
		}
		return models.FundHistory{FundID: fundID}, err
	}
	return h, nil
}

// Latest returns the newest stored snapshot of a fund.
func Latest(ctx context.Context, s SnapshotStore, fundID string) (*models.Snapshot, error) {
	h, err := s.All(ctx, fundID)
	if err != nil {
		return nil, err
	}
	last := h.Last()
	if last == nil {
		return nil, apperrors.NewNotFoundError(fundID, "")
	}
	return last, nil
}
