// Package store persists grid search results and per-epoch histories in a
// SQLite database so a search can be inspected after the process exits.
package store

import (
	"context"
	"database/sql"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/YuminosukeSato/haspeede/gridsearch"
	"github.com/YuminosukeSato/haspeede/metrics"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
	"github.com/YuminosukeSato/haspeede/training"
)

const schema = `
CREATE TABLE IF NOT EXISTS searches(
	id         TEXT PRIMARY KEY,
	task       TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS results(
	search_id      TEXT NOT NULL,
	cell           INTEGER NOT NULL,
	run_id         TEXT NOT NULL,
	seed           INTEGER NOT NULL,
	batch_size     INTEGER NOT NULL,
	dropout        REAL NOT NULL,
	learning_rate  REAL NOT NULL,
	class_weight   REAL NOT NULL,
	val_loss       REAL,
	f1_score       REAL NOT NULL,
	precision      REAL NOT NULL,
	recall         REAL NOT NULL,
	epochs         INTEGER NOT NULL,
	stopped_early  INTEGER NOT NULL,
	PRIMARY KEY(search_id, cell)
);
CREATE TABLE IF NOT EXISTS epochs(
	run_id      TEXT NOT NULL,
	epoch       INTEGER NOT NULL,
	train_loss  REAL,
	val_loss    REAL,
	f1_score    REAL NOT NULL,
	precision   REAL NOT NULL,
	recall      REAL NOT NULL,
	duration_ms INTEGER NOT NULL,
	PRIMARY KEY(run_id, epoch)
);
`

// Store is a SQLite-backed run store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open store %s", path)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create schema")
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Search is one row of the searches table.
type Search struct {
	ID        string
	Task      string
	CreatedAt time.Time
}

// CreateSearch registers a search. Registering an id twice is a no-op.
func (s *Store) CreateSearch(ctx context.Context, id, task string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO searches(id, task, created_at) VALUES(?, ?, ?)`,
		id, task, time.Now().UTC().Format(time.RFC3339Nano))
	return errors.Wrap(err, "insert search")
}

// Searches lists every search, oldest first.
func (s *Store) Searches(ctx context.Context) ([]Search, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, task, created_at FROM searches ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.Wrap(err, "query searches")
	}
	defer rows.Close()
	var out []Search
	for rows.Next() {
		var (
			sr Search
			ts string
		)
		if err := rows.Scan(&sr.ID, &sr.Task, &ts); err != nil {
			return nil, errors.Wrap(err, "scan search")
		}
		sr.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, sr)
	}
	return out, errors.Wrap(rows.Err(), "iterate searches")
}

// nullable maps NaN to NULL, which is how SQLite stores it anyway.
func nullable(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}

func fromNullable(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// SaveResult stores one grid cell under its search id.
func (s *Store) SaveResult(ctx context.Context, r gridsearch.Result) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO results(search_id, cell, run_id, seed, batch_size, dropout, learning_rate,
			class_weight, val_loss, f1_score, precision, recall, epochs, stopped_early)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SearchID, r.Index, r.RunID, r.Seed, r.BatchSize, r.Dropout, r.LearningRate,
		r.ClassWeight, nullable(r.ValLoss), r.MacroF1, r.MacroPrecision, r.MacroRecall, r.Epochs, r.StoppedEarly)
	return errors.Wrap(err, "insert result")
}

// SaveSearch stores a finished search and all its rows in one transaction.
func (s *Store) SaveSearch(ctx context.Context, task string, res *gridsearch.Results) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO searches(id, task, created_at) VALUES(?, ?, ?)`,
		res.SearchID, task, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return errors.Wrap(err, "insert search")
	}
	for _, r := range res.Rows() {
		if r.SearchID == "" {
			r.SearchID = res.SearchID
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO results(search_id, cell, run_id, seed, batch_size, dropout, learning_rate,
				class_weight, val_loss, f1_score, precision, recall, epochs, stopped_early)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.SearchID, r.Index, r.RunID, r.Seed, r.BatchSize, r.Dropout, r.LearningRate,
			r.ClassWeight, nullable(r.ValLoss), r.MacroF1, r.MacroPrecision, r.MacroRecall, r.Epochs, r.StoppedEarly); err != nil {
			return errors.Wrapf(err, "insert result %d", r.Index)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// ListResults returns the rows of a search in cell order.
func (s *Store) ListResults(ctx context.Context, searchID string) ([]gridsearch.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cell, run_id, seed, batch_size, dropout, learning_rate, class_weight,
			val_loss, f1_score, precision, recall, epochs, stopped_early
		FROM results WHERE search_id = ? ORDER BY cell`, searchID)
	if err != nil {
		return nil, errors.Wrap(err, "query results")
	}
	defer rows.Close()
	var out []gridsearch.Result
	for rows.Next() {
		r := gridsearch.Result{SearchID: searchID}
		var valLoss sql.NullFloat64
		if err := rows.Scan(&r.Index, &r.RunID, &r.Seed, &r.BatchSize, &r.Dropout, &r.LearningRate, &r.ClassWeight,
			&valLoss, &r.MacroF1, &r.MacroPrecision, &r.MacroRecall, &r.Epochs, &r.StoppedEarly); err != nil {
			return nil, errors.Wrap(err, "scan result")
		}
		r.ValLoss = fromNullable(valLoss)
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate results")
}

// SaveHistory stores every epoch of a run.
func (s *Store) SaveHistory(ctx context.Context, runID string, h *training.History) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, e := range h.Epochs {
		var macro metrics.Average
		if e.Report != nil {
			macro = e.Report.MacroAvg
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO epochs(run_id, epoch, train_loss, val_loss, f1_score, precision, recall, duration_ms)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, e.Epoch, nullable(e.TrainLoss), nullable(e.ValLoss), macro.F1, macro.Precision, macro.Recall,
			e.Duration.Milliseconds()); err != nil {
			return errors.Wrapf(err, "insert epoch %d", e.Epoch)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// History reads back the epochs of a run. Reports carry only the macro
// averages.
func (s *Store) History(ctx context.Context, runID string) (*training.History, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT epoch, train_loss, val_loss, f1_score, precision, recall, duration_ms
		FROM epochs WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "query epochs")
	}
	defer rows.Close()
	h := &training.History{}
	for rows.Next() {
		var (
			e                  training.EpochResult
			trainLoss, valLoss sql.NullFloat64
			macro              metrics.Average
			durationMs         int64
		)
		if err := rows.Scan(&e.Epoch, &trainLoss, &valLoss, &macro.F1, &macro.Precision, &macro.Recall, &durationMs); err != nil {
			return nil, errors.Wrap(err, "scan epoch")
		}
		e.TrainLoss = fromNullable(trainLoss)
		e.ValLoss = fromNullable(valLoss)
		e.Report = &metrics.Report{MacroAvg: macro}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		h.Epochs = append(h.Epochs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate epochs")
	}
	if h.Len() == 0 {
		return nil, errors.Wrapf(errors.ErrEmptyData, "no epochs for run %s", runID)
	}
	return h, nil
}

// Hook returns a grid search hook that stores each cell and its history as
// soon as it completes.
func (s *Store) Hook(ctx context.Context, task string) gridsearch.ResultHook {
	return func(r gridsearch.Result, h *training.History) error {
		if err := s.CreateSearch(ctx, r.SearchID, task); err != nil {
			return err
		}
		if err := s.SaveResult(ctx, r); err != nil {
			return err
		}
		return s.SaveHistory(ctx, r.RunID, h)
	}
}
