package store

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"
)

// FileStore keeps the workbook in a single YAML or JSON file. Writers
// coordinate through an advisory lock on "<path>.lock".
type FileStore struct {
	path   string
	format Format
	loc    *time.Location
	lock   *flock.Flock
}

// NewFileStore builds a file-backed store. The format follows the file extension.
func NewFileStore(path string, loc *time.Location) *FileStore {
	if loc == nil {
		loc = time.Local
	}
	return &FileStore{
		path:   path,
		format: FormatFromPath(path),
		loc:    loc,
		lock:   flock.New(path + ".lock"),
	}
}

// Path returns the workbook location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the whole workbook.
func (s *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrapf(ErrNotFound, "workbook %s", s.path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read workbook %s", s.path)
	}
	return decodeWorkbook(data, s.format, s.loc)
}

// Save writes the snapshot to a temp file and renames it over the workbook.
// A held lock or a sharing violation on rename is reported as ErrBusy.
func (s *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeWorkbook(snap, s.format)
	if err != nil {
		return err
	}

	locked, err := s.lock.TryLock()
	if err != nil {
		return errors.Wrapf(err, "lock workbook %s", s.path)
	}
	if !locked {
		return errors.Mark(errors.Newf("workbook %s is locked by another writer", s.path), ErrBusy)
	}
	defer s.lock.Unlock()

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp workbook")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp workbook")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync temp workbook")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp workbook")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return errors.Mark(errors.Wrapf(err, "replace workbook %s", s.path), ErrBusy)
		}
		return errors.Wrapf(err, "replace workbook %s", s.path)
	}
	snap.MarkClean()
	return nil
}
