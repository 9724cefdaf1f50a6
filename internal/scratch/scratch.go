// Package scratch owns the temporary directory used by fetch jobs.
//
// Every temp file is obtained through Acquire and removed through Release,
// which is idempotent. A Scope groups the files of one job so a single
// deferred Close removes all of them on every exit path.
package scratch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	logx "tubebot/pkg/logx"
)

// Workspace is a directory of uniquely named temp files.
type Workspace struct {
	fs  afero.Fs
	dir string
	log logx.Logger
	now func() time.Time
}

// New creates the directory if needed.
func New(fsys afero.Fs, dir string, log logx.Logger) (*Workspace, error) {
	dir = filepath.Clean(strings.TrimSpace(dir))
	if dir == "" || dir == "." {
		return nil, errors.New("scratch: empty directory")
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("scratch: create %s: %w", dir, err)
	}
	return &Workspace{fs: fsys, dir: dir, log: log, now: time.Now}, nil
}

func (w *Workspace) Fs() afero.Fs { return w.fs }
func (w *Workspace) Dir() string  { return w.dir }

// Acquire creates a new empty file named {unixnano}_{id}_{kind}.{ext}.
func (w *Workspace) Acquire(kind, ext string) (*File, error) {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	name := fmt.Sprintf("%d_%s_%s.%s", w.now().UnixNano(), uuid.NewString()[:8], sanitize(kind), ext)
	path := filepath.Join(w.dir, name)
	f, err := w.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("scratch: acquire: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = w.fs.Remove(path)
		return nil, fmt.Errorf("scratch: acquire: %w", err)
	}
	return &File{ws: w, path: path}, nil
}

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return -1
	}, s)
	if s == "" {
		return "tmp"
	}
	return s
}

// Purge removes every regular file in the workspace.
func (w *Workspace) Purge() (int, error) {
	return w.removeWhere(func(fs.FileInfo) bool { return true })
}

// Sweep removes files last modified more than maxAge ago.
func (w *Workspace) Sweep(maxAge time.Duration) (int, error) {
	cutoff := w.now().Add(-maxAge)
	return w.removeWhere(func(fi fs.FileInfo) bool { return fi.ModTime().Before(cutoff) })
}

func (w *Workspace) removeWhere(match func(fs.FileInfo) bool) (int, error) {
	entries, err := afero.ReadDir(w.fs, w.dir)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, fi := range entries {
		if fi.IsDir() || !match(fi) {
			continue
		}
		if err := w.fs.Remove(filepath.Join(w.dir, fi.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		n++
	}
	if n > 0 {
		w.log.Info("scratch files removed", logx.Int("count", n), logx.String("dir", w.dir))
	}
	return n, errors.Join(errs...)
}

// Count returns the number of files currently in the workspace.
func (w *Workspace) Count() int {
	entries, err := afero.ReadDir(w.fs, w.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, fi := range entries {
		if !fi.IsDir() {
			n++
		}
	}
	return n
}

// File is one acquired temp file.
type File struct {
	ws   *Workspace
	path string

	once sync.Once
	err  error
}

func (f *File) Path() string { return f.path }

// Ext returns the extension without the dot.
func (f *File) Ext() string { return strings.TrimPrefix(filepath.Ext(f.path), ".") }

// Size stats the file through the workspace filesystem.
func (f *File) Size() (int64, error) {
	fi, err := f.ws.fs.Stat(f.path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Create truncates the file and opens it for writing.
func (f *File) Create() (afero.File, error) {
	return f.ws.fs.OpenFile(f.path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
}

// Open opens the file for reading.
func (f *File) Open() (afero.File, error) { return f.ws.fs.Open(f.path) }

// Release removes the file. Calling it more than once is safe; a file that
// is already gone is not an error.
func (f *File) Release() error {
	f.once.Do(func() {
		err := f.ws.fs.Remove(f.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			f.err = err
			f.ws.log.Warn("scratch release failed", logx.String("path", f.path), logx.Err(err))
		}
	})
	return f.err
}

// Scope tracks the files of one job.
type Scope struct {
	ws *Workspace

	mu       sync.Mutex
	files    []*File
	detached map[*File]bool
}

func (w *Workspace) Scope() *Scope {
	return &Scope{ws: w, detached: map[*File]bool{}}
}

// Acquire creates a file owned by the scope.
func (s *Scope) Acquire(kind, ext string) (*File, error) {
	f, err := s.ws.Acquire(kind, ext)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.files = append(s.files, f)
	s.mu.Unlock()
	return f, nil
}

// Detach hands ownership of f to the caller; Close will not remove it.
func (s *Scope) Detach(f *File) {
	s.mu.Lock()
	s.detached[f] = true
	s.mu.Unlock()
}

// Close releases every file not detached.
func (s *Scope) Close() error {
	s.mu.Lock()
	files := s.files
	s.files = nil
	s.mu.Unlock()

	var errs []error
	for _, f := range files {
		if s.detached[f] {
			continue
		}
		if err := f.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
