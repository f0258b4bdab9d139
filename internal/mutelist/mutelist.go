// Package mutelist keeps the local mute list and per-speaker volumes, persisted
// as a single JSON document.
package mutelist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/discord-voice-lab/active-speakers/internal/logging"
)

// DefaultVolume is the gain of a speaker with no saved volume.
const DefaultVolume float32 = 0.5

// Flags say which channels of a speaker are muted.
type Flags uint8

const (
	FlagVoice Flags = 1 << iota
	FlagText

	FlagAll = FlagVoice | FlagText
)

// Kind of a muted entry.
const (
	KindAgent  = "agent"
	KindObject = "object"
)

// Entry is one muted speaker.
type Entry struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Flags Flags  `json:"flags"`
}

type document struct {
	Volumes map[string]float32 `json:"volumes,omitempty"`
	Mutes   []Entry            `json:"mutes,omitempty"`
}

// Store is safe for concurrent use. A Store without a path keeps its state in
// memory only.
type Store struct {
	mu      sync.RWMutex
	path    string
	entries map[string]Entry
	volumes map[string]float32
}

// NewMemory returns a store that is never written to disk.
func NewMemory() *Store {
	return &Store{entries: make(map[string]Entry), volumes: make(map[string]float32)}
}

// Open loads the store at path. A missing file yields an empty store that
// will be created on the first change.
func Open(path string) (*Store, error) {
	s := NewMemory()
	s.path = path
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mute list: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse mute list %s: %w", path, err)
	}
	for _, e := range doc.Mutes {
		if e.ID == "" || e.Flags == 0 {
			continue
		}
		s.entries[e.ID] = e
	}
	for id, v := range doc.Volumes {
		s.volumes[id] = clampVolume(v)
	}
	logging.Debugw("mute list loaded", "path", path, "mutes", len(s.entries), "volumes", len(s.volumes))
	return s, nil
}

// IsMuted reports whether id is muted on any of flags.
func (s *Store) IsMuted(id string, flags Flags) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id].Flags&flags != 0
}

// Entry returns the mute entry for id.
func (s *Store) Entry(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Entries returns every entry ordered by id.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Add mutes e.ID on e.Flags, keeping flags already set.
func (s *Store) Add(e Entry) error {
	if e.ID == "" || e.Flags == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.entries[e.ID]
	e.Flags |= prev.Flags
	if e.Name == "" {
		e.Name = prev.Name
	}
	if e.Kind == "" {
		e.Kind = prev.Kind
	}
	s.entries[e.ID] = e
	logging.Infow("mute added", append(logging.SpeakerFields(e.ID, e.Name), "flags", e.Flags)...)
	return s.saveLocked()
}

// Remove clears flags for id. The entry goes away once no flag is left.
func (s *Store) Remove(id string, flags Flags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	e.Flags &^= flags
	if e.Flags == 0 {
		delete(s.entries, id)
	} else {
		s.entries[id] = e
	}
	logging.Infow("mute removed", append(logging.SpeakerFields(id, e.Name), "flags", flags)...)
	return s.saveLocked()
}

// SavedVolume returns the persisted gain for id or DefaultVolume.
func (s *Store) SavedVolume(id string) float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.volumes[id]; ok {
		return v
	}
	return DefaultVolume
}

// SetSavedVolume persists a gain in [0, 1] for id.
func (s *Store) SetSavedVolume(id string, volume float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumes[id] = clampVolume(volume)
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	doc := document{Volumes: s.volumes, Mutes: make([]Entry, 0, len(s.entries))}
	for _, e := range s.entries {
		doc.Mutes = append(doc.Mutes, e)
	}
	sort.Slice(doc.Mutes, func(i, j int) bool { return doc.Mutes[i].ID < doc.Mutes[j].ID })
	if err := writeDocument(s.path, doc); err != nil {
		return fmt.Errorf("save mute list: %w", err)
	}
	return nil
}

// IsLinden reports whether name is a reserved staff name, which can never be
// text-muted.
func IsLinden(name string) bool {
	parts := strings.Fields(name)
	return len(parts) > 1 && parts[len(parts)-1] == "Linden"
}

func clampVolume(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
