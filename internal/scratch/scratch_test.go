package scratch

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	logx "tubebot/pkg/logx"
)

func newWS(t *testing.T) *Workspace {
	t.Helper()
	w, err := New(afero.NewMemMapFs(), "/scratch", logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func TestAcquireUniqueNames(t *testing.T) {
	w := newWS(t)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		f, err := w.Acquire("Video", ".mp4")
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if seen[f.Path()] {
			t.Fatalf("duplicate path %s", f.Path())
		}
		seen[f.Path()] = true
		if !strings.HasSuffix(f.Path(), "_video.mp4") || f.Ext() != "mp4" {
			t.Fatalf("unexpected name %s", f.Path())
		}
	}
	if w.Count() != 50 {
		t.Fatalf("count = %d", w.Count())
	}
}

func TestReleaseIdempotent(t *testing.T) {
	w := newWS(t)
	f, _ := w.Acquire("audio", "mp3")
	if err := f.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := f.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if _, err := f.Size(); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("file should be gone, got %v", err)
	}
}

func TestScopeCloseKeepsDetached(t *testing.T) {
	w := newWS(t)
	s := w.Scope()
	raw, _ := s.Acquire("raw", "webm")
	final, _ := s.Acquire("audio", "mp3")
	s.Detach(final)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := raw.Size(); !errors.Is(err, fs.ErrNotExist) {
		t.Fatal("raw file should be removed")
	}
	if _, err := final.Size(); err != nil {
		t.Fatalf("detached file should remain: %v", err)
	}
	_ = final.Release()
	if w.Count() != 0 {
		t.Fatalf("leftover files: %d", w.Count())
	}
}

func TestWriteAndSize(t *testing.T) {
	w := newWS(t)
	f, _ := w.Acquire("video", "mp4")
	out, err := f.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, _ = out.Write([]byte("hello"))
	_ = out.Close()
	if n, err := f.Size(); err != nil || n != 5 {
		t.Fatalf("Size = %d, %v", n, err)
	}
}

func TestPurgeAndSweep(t *testing.T) {
	w := newWS(t)
	old, _ := w.Acquire("video", "mp4")
	_ = w.fs.Chtimes(old.Path(), time.Now().Add(-2*time.Hour), time.Now().Add(-2*time.Hour))
	_, _ = w.Acquire("video", "mp4")

	n, err := w.Sweep(time.Hour)
	if err != nil || n != 1 || w.Count() != 1 {
		t.Fatalf("Sweep removed %d (%v), %d left", n, err, w.Count())
	}
	n, err = w.Purge()
	if err != nil || n != 1 || w.Count() != 0 {
		t.Fatalf("Purge removed %d (%v), %d left", n, err, w.Count())
	}
}
