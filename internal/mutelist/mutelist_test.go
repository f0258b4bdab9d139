package mutelist

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := s.SavedVolume("a"); got != DefaultVolume {
		t.Fatalf("expected default volume, got %v", got)
	}
	if s.IsMuted("a", FlagAll) {
		t.Fatalf("expected nothing muted")
	}
}

func TestAddRemoveFlags(t *testing.T) {
	s := NewMemory()
	if err := s.Add(Entry{ID: "a", Name: "Ada", Kind: KindAgent, Flags: FlagVoice}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(Entry{ID: "a", Flags: FlagText}); err != nil {
		t.Fatalf("add: %v", err)
	}
	e, ok := s.Entry("a")
	if !ok || e.Flags != FlagAll || e.Name != "Ada" || e.Kind != KindAgent {
		t.Fatalf("unexpected merged entry: %+v", e)
	}

	if err := s.Remove("a", FlagVoice); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if s.IsMuted("a", FlagVoice) || !s.IsMuted("a", FlagText) {
		t.Fatalf("expected only text muted")
	}
	if err := s.Remove("a", FlagText); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := s.Entry("a"); ok {
		t.Fatalf("expected entry gone once no flags remain")
	}
}

func TestPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mutes.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Add(Entry{ID: "a", Name: "Ada", Flags: FlagVoice}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.SetSavedVolume("b", 1.7); err != nil {
		t.Fatalf("set volume: %v", err)
	}
	files, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(files) != 1 || files[0].Name() != "mutes.json" {
		t.Fatalf("expected only mutes.json, got %v", files)
	}
	if info, err := os.Stat(path); err != nil || info.Mode().Perm() != 0o644 {
		t.Fatalf("stat: %v %v", info, err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reopened.IsMuted("a", FlagVoice) {
		t.Fatalf("expected a muted after reload")
	}
	if got := reopened.SavedVolume("b"); got != 1 {
		t.Fatalf("expected clamped volume 1, got %v", got)
	}
	if got := len(reopened.Entries()); got != 1 {
		t.Fatalf("expected 1 entry, got %d", got)
	}
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mutes.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestIsLinden(t *testing.T) {
	cases := map[string]bool{
		"Philip Linden":  true,
		"Linden":         false,
		"Ada Lindenberg": false,
		"":               false,
		"ada linden":     false,
	}
	for name, want := range cases {
		if got := IsLinden(name); got != want {
			t.Errorf("IsLinden(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestSaveFailureKeepsPreviousList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mutes.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Add(Entry{ID: "a", Flags: FlagText}); err != nil {
		t.Fatalf("add: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	// a directory in place of the target makes the final rename fail
	s.path = filepath.Join(dir, "blocked")
	if err := os.Mkdir(s.path, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.path, "keep"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Add(Entry{ID: "b", Flags: FlagVoice}); err == nil {
		t.Fatal("expected save error")
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("previous list changed:\n%s\n%s", before, after)
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("temp file left behind: %v", files)
	}
}
