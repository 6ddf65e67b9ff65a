package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "etfwatch/internal/errors"
	"etfwatch/internal/models"
)

const holdingsSuffix = "_holdings.json"

// JSONStore keeps one JSON array file per fund, <dir>/<fund>_holdings.json.
// Every write rewrites the whole file atomically.
type JSONStore struct {
	dir    string
	logger zerolog.Logger
	locks  fundLocks
}

// NewJSONStore creates a file-backed store rooted at dir.
func NewJSONStore(dir string, logger zerolog.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperrors.NewPersistenceError("mkdir", dir, err)
	}
	return &JSONStore{
		dir:    dir,
		logger: logger.With().Str("store", "json").Logger(),
	}, nil
}

// Path returns the store file of a fund.
func (s *JSONStore) Path(fundID string) string {
	return filepath.Join(s.dir, fundID+holdingsSuffix)
}

// Dir returns the directory the store writes to.
func (s *JSONStore) Dir() string { return s.dir }

// All implements SnapshotStore.
func (s *JSONStore) All(ctx context.Context, fundID string) (models.FundHistory, error) {
	if err := ctx.Err(); err != nil {
		return models.FundHistory{FundID: fundID}, err
	}
	snaps, err := s.read(fundID)
	if err != nil {
		return models.FundHistory{FundID: fundID}, err
	}
	return models.FundHistory{FundID: fundID, Snapshots: snaps}, nil
}

// SelectBaseline implements SnapshotStore.
func (s *JSONStore) SelectBaseline(ctx context.Context, fundID string, next models.Snapshot) (*models.Snapshot, error) {
	h, err := LoadHistory(ctx, s, fundID, s.logger)
	if err != nil {
		return nil, err
	}
	return SelectBaseline(h, next), nil
}

// Append implements SnapshotStore.
func (s *JSONStore) Append(ctx context.Context, fundID string, snap models.Snapshot) error {
	if err := validateSnapshot(fundID, snap); err != nil {
		return err
	}
	m := s.locks.get(fundID)
	m.Lock()
	defer m.Unlock()

	snaps, err := s.loadForWrite(ctx, fundID)
	if err != nil {
		return err
	}
	_, _, err = s.write(fundID, snaps, snap)
	return err
}

// Record implements SnapshotStore.
func (s *JSONStore) Record(ctx context.Context, fundID string, snap models.Snapshot) (RecordResult, error) {
	if err := validateSnapshot(fundID, snap); err != nil {
		return RecordResult{}, err
	}
	m := s.locks.get(fundID)
	m.Lock()
	defer m.Unlock()

	snaps, err := s.loadForWrite(ctx, fundID)
	if err != nil {
		return RecordResult{}, err
	}
	res := RecordResult{
		Baseline: SelectBaseline(models.FundHistory{FundID: fundID, Snapshots: snaps}, snap),
	}
	res.Stored, res.Replaced, err = s.write(fundID, snaps, snap)
	if err != nil {
		return RecordResult{}, err
	}
	return res, nil
}

// Funds lists the fund ids that have a store file, in ascending order.
func (s *JSONStore) Funds(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+holdingsSuffix))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(m), holdingsSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements SnapshotStore.
func (s *JSONStore) Close() error { return nil }

func (s *JSONStore) read(fundID string) ([]models.Snapshot, error) {
	path := s.Path(fundID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug().Str("fund", fundID).Msg("No stored history")
			return nil, nil
		}
		return nil, apperrors.NewPersistenceError("read", path, err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, apperrors.NewMalformedDataError(path, "expected a JSON array", nil)
	}
	var snaps []models.Snapshot
	if err := json.Unmarshal(trimmed, &snaps); err != nil {
		return nil, apperrors.NewMalformedDataError(path, "decoding snapshots", err)
	}
	return snaps, nil
}

// loadForWrite reads the current history for an update. A malformed file is
// moved aside so the write never silently destroys it.
func (s *JSONStore) loadForWrite(ctx context.Context, fundID string) ([]models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snaps, err := s.read(fundID)
	if err == nil {
		return snaps, nil
	}
	if !apperrors.Is(err, apperrors.ErrMalformedData) {
		return nil, err
	}

	path := s.Path(fundID)
	quarantine := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if rerr := os.Rename(path, quarantine); rerr != nil {
		return nil, apperrors.NewPersistenceError("quarantine", path, rerr)
	}
	s.logger.Warn().Err(err).Str("fund", fundID).Str("moved_to", quarantine).
		Msg("Malformed history moved aside, starting a new one")
	return nil, nil
}

func (s *JSONStore) write(fundID string, snaps []models.Snapshot, snap models.Snapshot) (int, bool, error) {
	merged, replaced, err := mergeSnapshot(fundID, snaps, snap)
	if err != nil {
		return 0, false, err
	}
	path := s.Path(fundID)
	start := time.Now()
	if err := WriteJSONAtomic(path, merged); err != nil {
		s.logger.Error().Err(err).Str("fund", fundID).Msg("Failed to save snapshot")
		return 0, false, err
	}
	s.logger.Info().
		Str("fund", fundID).
		Str("date", snap.Date.String()).
		Bool("replaced", replaced).
		Int("snapshots", len(merged)).
		Dur("duration", time.Since(start)).
		Msg("Snapshot saved")
	return len(merged), replaced, nil
}
