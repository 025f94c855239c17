// Package backup performs hot snapshots of the central SQLite store and the
// two-phase restore flow. Restore confirmation tokens live in the store so
// any HA instance can confirm a restore requested on another.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	filePrefix = "mfasrv_backup_"
	fileSuffix = ".db"
	// tokenTTL bounds the window between restore request and confirm.
	tokenTTL = 5 * time.Minute
)

var (
	ErrNotSQLite    = errors.New("backup: snapshots require the sqlite store")
	ErrBadFilename  = errors.New("backup: invalid backup filename")
	ErrBadToken     = errors.New("backup: unknown or expired restore token")
	filenamePattern = regexp.MustCompile(`^mfasrv_backup_\d{8}_\d{6}\.db$`)
)

// TokenStore persists single-use restore tokens.
type TokenStore interface {
	PutRestoreToken(ctx context.Context, token, filename string, expires time.Time) error
	TakeRestoreToken(ctx context.Context, token string) (string, error)
}

// Snapshotter copies the store file under a mutex so scheduled and manual
// snapshots never overlap.
type Snapshotter struct {
	mu        sync.Mutex
	dbPath    string
	dir       string
	retention int
	tokens    TokenStore
}

func New(dbPath, dir string, retention int, tokens TokenStore) (*Snapshotter, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if retention <= 0 {
		retention = 10
	}
	return &Snapshotter{dbPath: dbPath, dir: dir, retention: retention, tokens: tokens}, nil
}

// Info describes one backup file.
type Info struct {
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
}

// Snapshot copies the live store to a dated file and prunes old backups.
// SQLite in WAL mode keeps the main file consistent for readers, so a plain
// copy taken on the single-writer connection's quiesce is a usable snapshot.
func (s *Snapshotter) Snapshot(ctx context.Context) (*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dbPath == "" {
		return nil, ErrNotSQLite
	}

	name := filePrefix + time.Now().UTC().Format("20060102_150405") + fileSuffix
	dst := filepath.Join(s.dir, name)

	if err := copyFile(s.dbPath, dst); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	fi, err := os.Stat(dst)
	if err != nil {
		return nil, err
	}
	if err := s.prune(); err != nil {
		slog.Warn("[Backup] Prune failed", "error", err)
	}
	slog.Info("[Backup] Snapshot written", "file", name, "bytes", fi.Size())
	return &Info{Filename: name, Size: fi.Size(), Created: fi.ModTime().UTC()}, nil
}

// List returns backups newest first.
func (s *Snapshotter) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, e := range entries {
		if e.IsDir() || !filenamePattern.MatchString(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Filename: e.Name(), Size: fi.Size(), Created: fi.ModTime().UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename > out[j].Filename })
	return out, nil
}

// Open returns a reader for a named backup (the download endpoint).
func (s *Snapshotter) Open(filename string) (io.ReadCloser, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// RequestRestore issues a single-use token tied to the filename.
func (s *Snapshotter) RequestRestore(ctx context.Context, filename string) (string, error) {
	if _, err := s.resolve(filename); err != nil {
		return "", err
	}
	tok := uuid.New().String()
	if err := s.tokens.PutRestoreToken(ctx, tok, filename, time.Now().UTC().Add(tokenTTL)); err != nil {
		return "", err
	}
	return tok, nil
}

// ConfirmRestore consumes the token and replaces the live store file. The
// caller restarts the process afterwards; an open sqlite handle does not
// observe the swap.
func (s *Snapshotter) ConfirmRestore(ctx context.Context, tok string) error {
	filename, err := s.tokens.TakeRestoreToken(ctx, tok)
	if err != nil {
		return ErrBadToken
	}
	src, err := s.resolve(filename)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Keep the displaced store around until the restore is verified.
	if err := copyFile(s.dbPath, s.dbPath+".pre-restore"); err != nil {
		return fmt.Errorf("restore: preserve current store: %w", err)
	}
	if err := copyFile(src, s.dbPath); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	slog.Warn("[Backup] Store restored", "from", filename)
	return nil
}

// Run executes scheduled snapshots while isLeader holds.
func (s *Snapshotter) Run(ctx context.Context, interval time.Duration, isLeader func() bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !isLeader() {
				continue
			}
			if _, err := s.Snapshot(ctx); err != nil {
				slog.Error("[Backup] Scheduled snapshot failed", "error", err)
			}
		}
	}
}

// resolve whitelists the filename and rejects traversal.
func (s *Snapshotter) resolve(filename string) (string, error) {
	base := filepath.Base(filename)
	if base != filename || !filenamePattern.MatchString(base) {
		return "", ErrBadFilename
	}
	path := filepath.Join(s.dir, base)
	if _, err := os.Stat(path); err != nil {
		return "", ErrBadFilename
	}
	return path, nil
}

func (s *Snapshotter) prune() error {
	backups, err := s.List()
	if err != nil {
		return err
	}
	for i := s.retention; i < len(backups); i++ {
		if err := os.Remove(filepath.Join(s.dir, backups[i].Filename)); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
