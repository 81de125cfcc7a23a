// Package backup snapshots the client queue database so that purged or
// rejected submissions can still be recovered by hand.
package backup

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/julianstephens/ptlog/internal/logger"
)

const (
	// MaxBackups is the number of snapshots kept after rotation
	MaxBackups    = 14
	BackupDirName = "backups"
	filePrefix    = "queue-"
	fileSuffix    = ".db"
	stampLayout   = "20060102-150405.000000000"
)

// Info describes one snapshot on disk.
type Info struct {
	Path      string
	Timestamp time.Time
	Size      int64
}

// Manager writes snapshots of one database into <dir of db>/backups.
type Manager struct {
	dbPath    string
	backupDir string
	now       func() time.Time
}

func NewManager(dbPath string) *Manager {
	return &Manager{
		dbPath:    dbPath,
		backupDir: filepath.Join(filepath.Dir(dbPath), BackupDirName),
		now:       time.Now,
	}
}

func (m *Manager) Dir() string {
	return m.backupDir
}

// Snapshot writes a consistent copy of the database with VACUUM INTO and
// rotates old snapshots. It is safe while the queue is open; WAL content is
// included.
func (m *Manager) Snapshot() (string, error) {
	if _, err := os.Stat(m.dbPath); err != nil {
		return "", fmt.Errorf("database does not exist: %s", m.dbPath)
	}
	if err := os.MkdirAll(m.backupDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	dest := filepath.Join(m.backupDir, filePrefix+m.now().UTC().Format(stampLayout)+fileSuffix)
	if err := vacuumInto(m.dbPath, dest); err != nil {
		return "", err
	}

	if err := m.rotate(); err != nil {
		logger.Warn("Failed to rotate queue backups", "error", err)
	}
	logger.Info("Queue snapshot written", "path", dest)
	return dest, nil
}

func vacuumInto(src, dest string) error {
	db, err := sql.Open("sqlite", "file:"+src+"?mode=ro")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec("VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}
	return nil
}

// List returns snapshots newest first. Files that do not follow the naming
// scheme are ignored.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.backupDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var out []Info
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		ts, err := time.Parse(stampLayout, stamp)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Path: filepath.Join(m.backupDir, name), Timestamp: ts, Size: info.Size()})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (m *Manager) rotate() error {
	snapshots, err := m.List()
	if err != nil {
		return err
	}
	for i := MaxBackups; i < len(snapshots); i++ {
		if err := os.Remove(snapshots[i].Path); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", snapshots[i].Path, err)
		}
	}
	return nil
}

// Restore replaces the database with snapshot. The database must not be
// open. The current file is snapshotted first.
func (m *Manager) Restore(snapshot string) error {
	if err := verify(snapshot); err != nil {
		return fmt.Errorf("backup file is corrupted or invalid: %w", err)
	}

	if _, err := os.Stat(m.dbPath); err == nil {
		current, err := m.Snapshot()
		if err != nil {
			return fmt.Errorf("failed to back up current database before restore: %w", err)
		}
		logger.Info("Backed up current queue before restore", "path", current)
	}

	tmp := m.dbPath + ".restore.tmp"
	if err := copyFile(snapshot, tmp); err != nil {
		return fmt.Errorf("failed to copy backup file: %w", err)
	}
	// stale WAL files would be replayed over the restored database
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(m.dbPath + suffix); err != nil && !os.IsNotExist(err) {
			os.Remove(tmp)
			return fmt.Errorf("failed to remove %s: %w", m.dbPath+suffix, err)
		}
	}
	if err := os.Rename(tmp, m.dbPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to restore database: %w", err)
	}
	return nil
}

func verify(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return err
	}
	defer db.Close()

	var n int
	return db.QueryRow("SELECT COUNT(*) FROM queue_items").Scan(&n)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := out.ReadFrom(in); err != nil {
		return err
	}
	return out.Sync()
}
