package project_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"pgregory.net/rapid"

	"github.com/fakeyudi/pocketcode/internal/project"
)

func newStore(t *testing.T) (project.Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := project.NewStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, dir
}

func TestStoreEmpty(t *testing.T) {
	s, _ := newStore(t)
	if got := s.List(); len(got) != 0 {
		t.Errorf("List on fresh store = %+v, want empty", got)
	}
}

func TestStoreLifecycle(t *testing.T) {
	s, _ := newStore(t)

	a, err := s.Add("", project.QRCodeData{Link: "http://alpha:4096", Auth: "tok-a"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if a.ID == "" || a.Name != "alpha:4096" || a.CreatedAt.IsZero() {
		t.Errorf("unexpected project: %+v", a)
	}
	b, err := s.Add("beta", project.QRCodeData{Link: "http://beta", Auth: "u:p"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	list := s.List()
	if len(list) != 2 || list[0].ID != a.ID || list[1].ID != b.ID {
		t.Fatalf("List order = %+v", list)
	}

	renamed, err := s.Rename(a.ID, "  primary ")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if renamed.Name != "primary" || renamed.UpdatedAt.Before(renamed.CreatedAt) {
		t.Errorf("Rename result = %+v", renamed)
	}
	got, err := s.Get(a.ID)
	if err != nil || got.Name != "primary" {
		t.Errorf("Get after rename = %+v, %v", got, err)
	}

	if err := s.Delete(a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if list := s.List(); len(list) != 1 || list[0].ID != b.ID {
		t.Errorf("List after delete = %+v", list)
	}
}

func TestStoreNotFound(t *testing.T) {
	s, _ := newStore(t)
	if _, err := s.Get("nope"); !errors.Is(err, project.ErrNotFound) {
		t.Errorf("Get error = %v", err)
	}
	if _, err := s.Rename("nope", "x"); !errors.Is(err, project.ErrNotFound) {
		t.Errorf("Rename error = %v", err)
	}
	if err := s.Delete("nope"); !errors.Is(err, project.ErrNotFound) {
		t.Errorf("Delete error = %v", err)
	}
}

func TestStoreRejectsInvalid(t *testing.T) {
	s, _ := newStore(t)
	if _, err := s.Add("x", project.QRCodeData{Link: "http://x"}); !errors.Is(err, project.ErrInvalidQRCode) {
		t.Errorf("Add without auth error = %v", err)
	}
	p, _ := s.Add("x", project.QRCodeData{Link: "http://x", Auth: "a"})
	if _, err := s.Rename(p.ID, "   "); err == nil {
		t.Error("Rename to blank name should fail")
	}
}

func TestStoreEncryptsAtRest(t *testing.T) {
	s, dir := newStore(t)
	if _, err := s.Add("secretive", project.QRCodeData{Link: "http://host", Auth: "super-secret-token"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if bytes.Contains(data, []byte("super-secret-token")) || bytes.Contains(data, []byte("secretive")) {
		t.Error("store file contains plaintext")
	}

	for _, name := range []string{"projects.enc", "projects.key"} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("Stat %s: %v", name, err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("%s permissions = %o, want 600", name, perm)
		}
	}

	// A second store on the same directory reuses the key.
	again, err := project.NewStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if list := again.List(); len(list) != 1 || list[0].AuthToken != "super-secret-token" {
		t.Errorf("reopened store = %+v", list)
	}
}

func TestStoreCorruptFileDegradesToEmpty(t *testing.T) {
	s, _ := newStore(t)
	if _, err := s.Add("a", project.QRCodeData{Link: "http://a", Auth: "a"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	data, _ := os.ReadFile(s.Path())
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(s.Path(), data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if list := s.List(); len(list) != 0 {
		t.Errorf("tampered store listed %+v, want empty", list)
	}

	if err := os.WriteFile(s.Path(), []byte("garbage"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if list := s.List(); len(list) != 0 {
		t.Errorf("garbage store listed %+v, want empty", list)
	}
}

func TestStoreWriteFailureKeepsPreviousFile(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("running as root; permission checks are ineffective")
	}
	s, dir := newStore(t)
	if _, err := s.Add("keep", project.QRCodeData{Link: "http://a", Auth: "a"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	before, _ := os.ReadFile(s.Path())

	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { os.Chmod(dir, 0o700) })

	if _, err := s.Add("lost", project.QRCodeData{Link: "http://b", Auth: "b"}); err == nil {
		t.Fatal("expected Add to fail in a read-only directory")
	}
	after, _ := os.ReadFile(s.Path())
	if !bytes.Equal(before, after) {
		t.Error("failed write modified the store file")
	}
	if list := s.List(); len(list) != 1 || list[0].Name != "keep" {
		t.Errorf("List after failed write = %+v", list)
	}
}

// Feature: pocketcode, Property 8: Store persistence round-trip
func TestStoreRoundTrip(t *testing.T) {
	s, dir := newStore(t)

	rapid.Check(t, func(t *rapid.T) {
		for _, p := range s.List() {
			if err := s.Delete(p.ID); err != nil {
				t.Fatalf("Delete: %v", err)
			}
		}

		n := rapid.IntRange(0, 5).Draw(t, "n")
		var want []project.Project
		for range n {
			p, err := s.Add(
				rapid.StringN(1, 20, -1).Draw(t, "name"),
				project.QRCodeData{
					Link: rapid.StringMatching(`https?://[a-z]{1,8}`).Draw(t, "link"),
					Auth: rapid.StringMatching(`[a-z0-9:]{1,12}`).Draw(t, "auth"),
				},
			)
			if err != nil {
				t.Fatalf("Add: %v", err)
			}
			want = append(want, p)
		}

		reopened, err := project.NewStore(dir, zerolog.Nop())
		if err != nil {
			t.Fatalf("NewStore: %v", err)
		}
		got := reopened.List()
		if len(got) != len(want) {
			t.Fatalf("got %d projects, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i].ID != want[i].ID || got[i].Name != want[i].Name ||
				got[i].URL != want[i].URL || got[i].AuthToken != want[i].AuthToken {
				t.Errorf("project %d = %+v, want %+v", i, got[i], want[i])
			}
			if !got[i].CreatedAt.Equal(want[i].CreatedAt) {
				t.Errorf("project %d CreatedAt = %v, want %v", i, got[i].CreatedAt, want[i].CreatedAt)
			}
		}
	})
}

func TestWatchSeesSaves(t *testing.T) {
	s, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 10)
	go project.Watch(ctx, s, func() { changed <- struct{}{} })
	time.Sleep(100 * time.Millisecond)

	if _, err := s.Add("w", project.QRCodeData{Link: "http://w", Auth: "w"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the save")
	}
}
