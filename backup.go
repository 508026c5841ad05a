package strata

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/strataio/strata/backup"
)

// newBackupID returns a sortable backup id: a UTC timestamp plus a short
// random suffix so concurrent backups cannot collide.
func newBackupID() string {
	return fmt.Sprintf("backup_%s_%s", time.Now().UTC().Format("20060102T150405Z"), backup.NewID()[:8])
}

// Backup writes a full backup into the database's backups directory and
// returns its id. The backup covers every entity's segments, metadata and
// indexes; encrypted files are copied as stored.
func (db *Database) Backup(ctx context.Context) (string, error) {
	return db.BackupTo(ctx, backup.NewLocal(db.backupsDir()))
}

// BackupTo streams a full backup into the given target (local directory, S3,
// MinIO) and returns its id. Queued metadata saves are drained first so the
// copied files reflect every completed mutation.
func (db *Database) BackupTo(ctx context.Context, target backup.Target) (string, error) {
	if db.closed.Load() {
		return "", ErrClosed
	}

	start := time.Now()
	id, files, err := db.backupTo(ctx, target)
	db.metrics.RecordBackup(time.Since(start), err)
	db.logger.LogBackup(ctx, id, files, err)
	return id, err
}

func (db *Database) backupTo(ctx context.Context, target backup.Target) (string, int, error) {
	if err := db.flusher.Barrier().Wait(ctx); err != nil {
		return "", 0, err
	}

	files, err := db.dataFiles()
	if err != nil {
		return "", 0, err
	}

	id := newBackupID()
	err = db.resources.Do(ctx, func() error {
		_, err := backup.Create(ctx, target, db.codec, db.cfg.BasePath, id, files, db.resources)
		return err
	})
	if err != nil {
		return id, len(files), err
	}

	db.emit(ctx, "backup_created", AuditBackup, map[string]any{"backup": id, "files": len(files)})
	return id, len(files), nil
}

// dataFiles lists every file under datamodels/ as a slash path relative to
// the base path. Leftover atomic-write temp files are skipped.
func (db *Database) dataFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(db.dataDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.Contains(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(db.cfg.BasePath, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Backups lists the completed backups in the local backups directory, oldest
// first. Interrupted backups carry no manifest and are not listed.
func (db *Database) Backups(ctx context.Context) ([]string, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	return backup.List(ctx, backup.NewLocal(db.backupsDir()))
}

// DeleteBackup removes a backup from the local backups directory.
func (db *Database) DeleteBackup(ctx context.Context, id string) error {
	if db.closed.Load() {
		return ErrClosed
	}
	return backup.Delete(ctx, backup.NewLocal(db.backupsDir()), id)
}

// Restore replaces the database contents with a backup from the local
// backups directory.
func (db *Database) Restore(ctx context.Context, id string) error {
	return db.RestoreFrom(ctx, backup.NewLocal(db.backupsDir()), id)
}

// RestoreFrom replaces the database contents with the files of the given
// backup. Every entity is write-locked for the duration, queued saves are
// drained first, and all cached metadata is reloaded afterwards. Files
// created after the backup are not removed; entities present only in the
// backup become visible again after the restore.
func (db *Database) RestoreFrom(ctx context.Context, target backup.Target, id string) error {
	if db.closed.Load() {
		return ErrClosed
	}

	start := time.Now()
	err := db.restoreFrom(ctx, target, id)
	db.metrics.RecordBackup(time.Since(start), err)
	db.logger.LogRestore(ctx, id, err)
	return err
}

func (db *Database) restoreFrom(ctx context.Context, target backup.Target, id string) error {
	handles := db.handles()

	var held []entityHandle
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].release()
		}
	}()
	for _, h := range handles {
		if err := h.acquire(ctx); err != nil {
			return err
		}
		held = append(held, h)
	}

	if err := db.flusher.Barrier().Wait(ctx); err != nil {
		return err
	}

	if _, err := backup.Restore(ctx, target, db.codec, db.cfg.BasePath, id, db.resources); err != nil {
		return err
	}

	if err := db.global.Reload(ctx); err != nil {
		return err
	}
	for _, h := range handles {
		if err := h.reload(ctx); err != nil {
			return err
		}
	}

	// The backup may carry entities this process has never seen; give them
	// discovery handles so stats and maintenance cover them.
	snap, err := db.global.Snapshot(ctx)
	if err != nil {
		return err
	}
	db.mu.Lock()
	for _, e := range snap.Entities {
		if _, known := db.entities[e.Name]; !known {
			db.entities[e.Name] = db.newRawHandle(e.Name)
			db.order = append(db.order, e.Name)
		}
	}
	db.mu.Unlock()

	db.emit(ctx, "backup_restored", AuditBackup, map[string]any{"backup": id})
	return nil
}
