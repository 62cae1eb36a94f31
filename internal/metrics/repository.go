package metrics

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/edgepilot/internal/autopilot"
	"codeberg.org/mutker/edgepilot/internal/errors"
	"codeberg.org/mutker/edgepilot/internal/logger"
	"codeberg.org/mutker/edgepilot/internal/telemetry"
	_ "github.com/mattn/go-sqlite3"
)

const defaultDirPerm = 0o755

type repository struct {
	db  *sql.DB
	cfg Config

	mu        sync.Mutex
	snapshots []telemetry.Snapshot
	decisions []autopilot.Decision

	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

// NewRepository opens (creating if needed) the sqlite database and starts the
// periodic flusher.
func NewRepository(cfg Config) (Recorder, error) {
	if cfg.DBPath == "" {
		return nil, errors.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errors.Wrap(ErrStorageInit, err)
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(ErrStorageInit, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(ErrStorageInit, err)
	}

	logger.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", schemaVersion).
		Int("batch_size", cfg.BatchSize).
		Msg("Metrics repository initialized")

	repo := &repository{
		db:            db,
		cfg:           cfg,
		snapshots:     make([]telemetry.Snapshot, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if cfg.BatchSize > 0 && cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(time.Duration(cfg.BatchTimeout) * time.Second)
		go repo.flusher()
	}

	return repo, nil
}

func (r *repository) RecordSnapshot(snap telemetry.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapshots = append(r.snapshots, snap)

	if len(r.snapshots) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

func (r *repository) RecordDecision(decision autopilot.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Decisions are rare; persist them with the next snapshot batch.
	r.decisions = append(r.decisions, decision)

	return nil
}

func (r *repository) Close() error {
	close(r.shutdownChan)

	if r.flushTicker != nil {
		r.flushTicker.Stop()
		<-r.flushDoneChan
	} else {
		r.mu.Lock()
		r.flush()
		r.mu.Unlock()
	}

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.Wrap(ErrStorageClose, err)
	}

	if err := r.db.Close(); err != nil {
		return errors.Wrap(ErrStorageClose, err)
	}

	logger.Info().Msg("Metrics repository closed gracefully")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			r.flush()
			r.mu.Unlock()
		case <-r.shutdownChan:
			r.mu.Lock()
			r.flush()
			r.mu.Unlock()
			return
		}
	}
}

// flush writes both buffers in one transaction. Caller holds r.mu.
func (r *repository) flush() error {
	if len(r.snapshots) == 0 && len(r.decisions) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to begin transaction")
		return errors.Wrap(ErrTransactionFailed, err)
	}

	if err := r.insertSnapshots(tx); err != nil {
		rollback(tx)
		return err
	}
	if err := r.insertDecisions(tx); err != nil {
		rollback(tx)
		return err
	}

	if err := tx.Commit(); err != nil {
		logger.Error().Err(err).Msg("Failed to commit transaction")
		return errors.Wrap(ErrTransactionFailed, err)
	}

	logger.Debug().
		Int("snapshots", len(r.snapshots)).
		Int("decisions", len(r.decisions)).
		Msg("Flushed metrics to database")

	r.snapshots = r.snapshots[:0]
	r.decisions = r.decisions[:0]

	return nil
}

func (r *repository) insertSnapshots(tx *sql.Tx) error {
	if len(r.snapshots) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(insertSnapshotSQL)
	if err != nil {
		return errors.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, s := range r.snapshots {
		_, err := stmt.Exec(s.Timestamp.Unix(), s.GPUUtil, s.VRAMUsedGB, s.VRAMTotalGB,
			s.CPUUtil, s.RAMUsedGB, s.FPS, s.LatencyMS)
		if err != nil {
			return errors.Wrap(ErrTransactionFailed, err)
		}
	}

	return nil
}

func (r *repository) insertDecisions(tx *sql.Tx) error {
	if len(r.decisions) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(insertDecisionSQL)
	if err != nil {
		return errors.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, d := range r.decisions {
		_, err := stmt.Exec(d.Timestamp.Unix(), d.PreviousState, d.NewState, d.Action,
			d.Reason, d.TelemetrySummary.GPUUtil, d.TelemetrySummary.FPS, d.TelemetrySummary.VRAMUsedGB)
		if err != nil {
			return errors.Wrap(ErrTransactionFailed, err)
		}
	}

	return nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil {
		logger.Error().Err(err).Msg("Failed to roll back transaction")
	}
}
