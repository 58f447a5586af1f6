// Package backup writes periodic JSON snapshots of the application tables.
package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite-rpg/ignite-api/cache"
	"github.com/ignite-rpg/ignite-api/config"
	"github.com/ignite-rpg/ignite-api/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrLocked is returned when another instance holds the backup lock.
	ErrLocked = errors.New("backup: another run is in progress")
	// ErrSnapshotExists is returned when a snapshot with the same name is
	// already on disk.
	ErrSnapshotExists = errors.New("backup: snapshot already exists")
)

const (
	lockKey       = "backup:lock"
	lockTTL       = 30 * time.Minute
	nameLayout    = "20060102T150405.000000000Z"
	legacyLayout  = "20060102T150405Z"
	partialSuffix = ".partial"
	manifestFile  = "manifest.json"
)

// Snapshot describes one completed backup directory.
type Snapshot struct {
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"created_at"`
	Rows      map[string]int `json:"rows"`
	SizeBytes int64          `json:"size_bytes"`
}

// Exporter dumps the configured tables to <dir>/<UTC timestamp>/<table>.json.
// Runs are serialized across instances through a cache lock.
type Exporter struct {
	db     *gorm.DB
	cache  cache.Cache
	cfg    config.BackupConfig
	logger *zap.Logger
	now    func() time.Time
}

// New creates an Exporter. c holds the cross-instance run lock.
func New(db *gorm.DB, c cache.Cache, cfg config.BackupConfig, logger *zap.Logger) *Exporter {
	return &Exporter{db: db, cache: c, cfg: cfg, logger: logger, now: time.Now}
}

// Run writes one snapshot and prunes old ones down to cfg.Keep.
func (e *Exporter) Run(ctx context.Context) (snap *Snapshot, err error) {
	start := time.Now()
	defer func() { metrics.RecordBackup(err, time.Since(start)) }()

	ok, err := e.cache.SetNX(ctx, lockKey, uuid.NewString(), lockTTL)
	if err != nil {
		return nil, fmt.Errorf("backup: acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	defer func() {
		if delErr := e.cache.Del(context.WithoutCancel(ctx), lockKey); delErr != nil {
			e.logger.Warn("backup lock release failed", zap.Error(delErr))
		}
	}()

	created := e.now().UTC()
	name := created.Format(nameLayout)
	final := filepath.Join(e.cfg.Dir, name)
	partial := final + partialSuffix
	if _, statErr := os.Stat(final); statErr == nil {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotExists, name)
	}
	if err := os.MkdirAll(partial, 0o750); err != nil {
		return nil, fmt.Errorf("backup: create dir: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(partial)
		}
	}()

	snap = &Snapshot{Name: name, CreatedAt: created, Rows: make(map[string]int, len(e.cfg.Tables))}
	for _, table := range e.cfg.Tables {
		n, size, err := e.exportTable(ctx, table, filepath.Join(partial, table+".json"))
		if err != nil {
			return nil, err
		}
		snap.Rows[table] = n
		snap.SizeBytes += size
	}
	if err := writeJSON(filepath.Join(partial, manifestFile), snap); err != nil {
		return nil, fmt.Errorf("backup: write manifest: %w", err)
	}
	if err := os.Rename(partial, final); err != nil {
		return nil, fmt.Errorf("backup: finalize: %w", err)
	}

	e.logger.Info("backup completed",
		zap.String("snapshot", name),
		zap.Any("rows", snap.Rows),
		zap.Int64("bytes", snap.SizeBytes),
		zap.Duration("duration", time.Since(start)))

	if err := e.prune(); err != nil {
		e.logger.Warn("backup prune failed", zap.Error(err))
	}
	return snap, nil
}

// exportTable streams every row of table as a JSON array.
func (e *Exporter) exportTable(ctx context.Context, table, path string) (int, int64, error) {
	if !e.db.Migrator().HasTable(table) {
		return 0, 0, fmt.Errorf("backup: unknown table %q", table)
	}
	rows, err := e.db.WithContext(ctx).Table(table).Rows()
	if err != nil {
		return 0, 0, fmt.Errorf("backup: query %s: %w", table, err)
	}
	defer rows.Close()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, 0, fmt.Errorf("backup: open %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	n := 0
	if _, err := w.WriteString("["); err != nil {
		return 0, 0, err
	}
	for rows.Next() {
		row := map[string]interface{}{}
		if err := e.db.ScanRows(rows, &row); err != nil {
			return 0, 0, fmt.Errorf("backup: scan %s: %w", table, err)
		}
		if n > 0 {
			if _, err := w.WriteString(","); err != nil {
				return 0, 0, err
			}
		}
		if err := enc.Encode(normalizeRow(row)); err != nil {
			return 0, 0, fmt.Errorf("backup: encode %s: %w", table, err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("backup: read %s: %w", table, err)
	}
	if _, err := w.WriteString("]\n"); err != nil {
		return 0, 0, err
	}
	if err := w.Flush(); err != nil {
		return 0, 0, fmt.Errorf("backup: flush %s: %w", table, err)
	}
	info, err := f.Stat()
	if err != nil {
		return 0, 0, err
	}
	return n, info.Size(), nil
}

// List returns completed snapshots, newest first.
func (e *Exporter) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(e.cfg.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Snapshot{}, nil
		}
		return nil, fmt.Errorf("backup: list: %w", err)
	}
	out := []Snapshot{}
	for _, ent := range entries {
		if !ent.IsDir() || strings.HasSuffix(ent.Name(), partialSuffix) {
			continue
		}
		created, ok := parseName(ent.Name())
		if !ok {
			continue
		}
		snap := Snapshot{Name: ent.Name(), CreatedAt: created}
		if b, err := os.ReadFile(filepath.Join(e.cfg.Dir, ent.Name(), manifestFile)); err == nil {
			var m Snapshot
			if json.Unmarshal(b, &m) == nil {
				snap.Rows = m.Rows
				snap.SizeBytes = m.SizeBytes
			}
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// prune removes completed snapshots beyond the newest cfg.Keep and any
// leftover partial directories from crashed runs.
func (e *Exporter) prune() error {
	snaps, err := e.List()
	if err != nil {
		return err
	}
	var errs []error
	if e.cfg.Keep > 0 && len(snaps) > e.cfg.Keep {
		for _, s := range snaps[e.cfg.Keep:] {
			if err := os.RemoveAll(filepath.Join(e.cfg.Dir, s.Name)); err != nil {
				errs = append(errs, err)
				continue
			}
			e.logger.Info("backup pruned", zap.String("snapshot", s.Name))
		}
	}
	leftovers, _ := filepath.Glob(filepath.Join(e.cfg.Dir, "*"+partialSuffix))
	for _, p := range leftovers {
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// parseName reads the creation time from a snapshot directory name.
// Snapshots written before names carried nanoseconds use legacyLayout.
func parseName(name string) (time.Time, bool) {
	for _, layout := range []string{nameLayout, legacyLayout} {
		if t, err := time.Parse(layout, name); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// normalizeRow turns driver byte slices into strings so text columns do not
// come out base64-encoded.
func normalizeRow(row map[string]interface{}) map[string]interface{} {
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}
	return row
}

func writeJSON(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o640)
}
