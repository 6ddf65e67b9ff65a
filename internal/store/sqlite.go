package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	apperrors "etfwatch/internal/errors"
	"etfwatch/internal/models"
)

// SQLiteStore implements SnapshotStore on an indexed SQLite database.
// Same-day replacement and baseline selection run inside one transaction.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
	locks  fundLocks
}

// NewSQLiteStore creates a new SQLite-based snapshot store.
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, apperrors.NewPersistenceError("mkdir", filepath.Dir(dbPath), err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{
		db:     db,
		path:   dbPath,
		logger: logger.With().Str("store", "sqlite").Logger(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- One row per fund and calendar day
	CREATE TABLE IF NOT EXISTS snapshots (
		fund_id TEXT NOT NULL,
		data_date TEXT NOT NULL,
		is_latest INTEGER NOT NULL DEFAULT 0,
		price TEXT,
		change_value TEXT,
		change_percent TEXT,
		holdings TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (fund_id, data_date)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_fund ON snapshots(fund_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// All implements SnapshotStore.
func (s *SQLiteStore) All(ctx context.Context, fundID string) (models.FundHistory, error) {
	h := models.FundHistory{FundID: fundID}
	rows, err := s.db.QueryContext(ctx, `
		SELECT data_date, is_latest, price, change_value, change_percent, holdings
		FROM snapshots
		WHERE fund_id = ?
		ORDER BY data_date ASC
	`, fundID)
	if err != nil {
		return h, apperrors.NewPersistenceError("query", s.path, err)
	}
	defer rows.Close()

	snaps, err := s.scanSnapshots(rows)
	if err != nil {
		return h, err
	}
	h.Snapshots = snaps
	return h, nil
}

// SelectBaseline implements SnapshotStore.
func (s *SQLiteStore) SelectBaseline(ctx context.Context, fundID string, next models.Snapshot) (*models.Snapshot, error) {
	tail, err := s.tail(ctx, s.db, fundID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrMalformedData) {
			s.logger.Warn().Err(err).Str("fund", fundID).Msg("Stored history is malformed, treating as empty")
			return nil, nil
		}
		return nil, err
	}
	return SelectBaseline(tail, next), nil
}

// Append implements SnapshotStore.
func (s *SQLiteStore) Append(ctx context.Context, fundID string, snap models.Snapshot) error {
	_, err := s.Record(ctx, fundID, snap)
	return err
}

// Record implements SnapshotStore.
func (s *SQLiteStore) Record(ctx context.Context, fundID string, snap models.Snapshot) (RecordResult, error) {
	if err := validateSnapshot(fundID, snap); err != nil {
		return RecordResult{}, err
	}
	m := s.locks.get(fundID)
	m.Lock()
	defer m.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RecordResult{}, apperrors.NewPersistenceError("begin", s.path, err)
	}
	defer tx.Rollback()

	tail, err := s.tail(ctx, tx, fundID)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrMalformedData) {
			return RecordResult{}, err
		}
		s.logger.Warn().Err(err).Str("fund", fundID).Msg("Stored history is malformed, treating as empty")
		tail = models.FundHistory{FundID: fundID}
	}

	res := RecordResult{Baseline: SelectBaseline(tail, snap)}
	if _, res.Replaced, err = mergeSnapshot(fundID, tail.Snapshots, snap); err != nil {
		return RecordResult{}, err
	}

	holdings, err := json.Marshal(snap.Holdings)
	if err != nil {
		return RecordResult{}, apperrors.NewPersistenceError("encode", s.path, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots (fund_id, data_date, is_latest, price, change_value, change_percent, holdings, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, fundID, snap.Date.String(), snap.IsLatest, snap.PriceInfo.Price, snap.PriceInfo.ChangeValue, snap.PriceInfo.ChangePercent, string(holdings))
	if err != nil {
		return RecordResult{}, apperrors.NewPersistenceError("insert", s.path, err)
	}

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE fund_id = ?`, fundID).Scan(&res.Stored); err != nil {
		return RecordResult{}, apperrors.NewPersistenceError("count", s.path, err)
	}

	if err := tx.Commit(); err != nil {
		return RecordResult{}, apperrors.NewPersistenceError("commit", s.path, err)
	}

	s.logger.Info().
		Str("fund", fundID).
		Str("date", snap.Date.String()).
		Bool("replaced", res.Replaced).
		Int("snapshots", res.Stored).
		Msg("Snapshot saved")
	return res, nil
}

// Funds lists the fund ids with stored snapshots.
func (s *SQLiteStore) Funds(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT fund_id FROM snapshots ORDER BY fund_id`)
	if err != nil {
		return nil, apperrors.NewPersistenceError("query", s.path, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewPersistenceError("scan", s.path, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// tail returns the last two stored snapshots of a fund in ascending order.
func (s *SQLiteStore) tail(ctx context.Context, q querier, fundID string) (models.FundHistory, error) {
	h := models.FundHistory{FundID: fundID}
	rows, err := q.QueryContext(ctx, `
		SELECT data_date, is_latest, price, change_value, change_percent, holdings
		FROM snapshots
		WHERE fund_id = ?
		ORDER BY data_date DESC
		LIMIT 2
	`, fundID)
	if err != nil {
		return h, apperrors.NewPersistenceError("query", s.path, err)
	}
	defer rows.Close()

	snaps, err := s.scanSnapshots(rows)
	if err != nil {
		return h, err
	}
	for i, j := 0, len(snaps)-1; i < j; i, j = i+1, j-1 {
		snaps[i], snaps[j] = snaps[j], snaps[i]
	}
	h.Snapshots = snaps
	return h, nil
}

func (s *SQLiteStore) scanSnapshots(rows *sql.Rows) ([]models.Snapshot, error) {
	var snaps []models.Snapshot
	for rows.Next() {
		var (
			date, holdings                    string
			price, changeValue, changePercent sql.NullString
			snap                              models.Snapshot
		)
		if err := rows.Scan(&date, &snap.IsLatest, &price, &changeValue, &changePercent, &holdings); err != nil {
			return nil, apperrors.NewPersistenceError("scan", s.path, err)
		}
		d, err := models.ParseDate(date)
		if err != nil {
			return nil, apperrors.NewMalformedDataError(s.path, "decoding data_date", err)
		}
		snap.Date = d
		snap.PriceInfo = models.PriceInfo{
			Price:         price.String,
			ChangeValue:   changeValue.String,
			ChangePercent: changePercent.String,
		}
		if err := json.Unmarshal([]byte(holdings), &snap.Holdings); err != nil {
			return nil, apperrors.NewMalformedDataError(s.path, "decoding holdings", err)
		}
		if snap.Holdings == nil {
			snap.Holdings = map[string]models.Holding{}
		}
		for code, h := range snap.Holdings {
			h.Code = code
			snap.Holdings[code] = h
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError("iterate", s.path, err)
	}
	return snaps, nil
}
