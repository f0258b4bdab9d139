package speaker

import (
	"strings"
	"time"
)

// Speaker is one participant of a channel. The registry owns it; callers may
// keep the pointer to observe it but must only mutate it through the registry.
type Speaker struct {
	ID          string
	DisplayName string
	Kind        Kind
	Status      Status

	SpeechVolume float32
	DotColor     Color
	Typing       bool

	IsModerator         bool
	ModeratorMutedVoice bool
	ModeratorMutedText  bool

	HasSpoken     bool
	LastSpokeTime time.Duration

	// SortIndex is this record's position after the last Update.
	SortIndex int

	handle Handle
	expiry time.Time
}

// Handle refers to a record without owning it. A handle outlives the record
// it names; lookups through a stale handle find nothing.
type Handle struct {
	ID  string
	gen uint64
}

// Handle returns the lookup handle of s.
func (s *Speaker) Handle() Handle { return s.handle }

func (s *Speaker) resetExpiry(now time.Time) { s.expiry = now.Add(SpeakerTimeout) }

func (s *Speaker) expired(now time.Time) bool { return !now.Before(s.expiry) }

// Info is a value copy of a Speaker, safe to hand to other goroutines.
type Info struct {
	ID                  string  `json:"id"`
	DisplayName         string  `json:"display_name,omitempty"`
	Kind                string  `json:"kind"`
	Status              string  `json:"status"`
	SpeechVolume        float32 `json:"speech_volume"`
	IsModerator         bool    `json:"is_moderator"`
	ModeratorMutedVoice bool    `json:"moderator_muted_voice"`
	ModeratorMutedText  bool    `json:"moderator_muted_text"`
	Typing              bool    `json:"typing,omitempty"`
	HasSpoken           bool    `json:"has_spoken"`
	LastSpokeMs         int64   `json:"last_spoke_ms"`
	SortIndex           int     `json:"sort_index"`
}

// Info copies s into a value snapshot.
func (s *Speaker) Info() Info {
	return Info{
		ID:                  s.ID,
		DisplayName:         s.DisplayName,
		Kind:                s.Kind.String(),
		Status:              s.Status.String(),
		SpeechVolume:        s.SpeechVolume,
		IsModerator:         s.IsModerator,
		ModeratorMutedVoice: s.ModeratorMutedVoice,
		ModeratorMutedText:  s.ModeratorMutedText,
		Typing:              s.Typing,
		HasSpoken:           s.HasSpoken,
		LastSpokeMs:         s.LastSpokeTime.Milliseconds(),
		SortIndex:           s.SortIndex,
	}
}

// formatName joins a resolved first/last name.
func formatName(r NameResult) string {
	return strings.TrimSpace(r.First + " " + r.Last)
}

// EventKind names a moderation confirmation.
type EventKind int

const (
	VoiceMuteChanged EventKind = iota
	TextMuteChanged
)

func (k EventKind) String() string {
	if k == TextMuteChanged {
		return "text"
	}
	return "voice"
}

// Event is delivered to subscribers when a moderator mute flag changes.
type Event struct {
	Kind      EventKind
	SpeakerID string
	Value     bool
}

// Subscription identifies a listener registered with Subscribe.
type Subscription struct {
	handle Handle
	id     uint64
}

// Handle returns the record generation sub listens to.
func (sub Subscription) Handle() Handle { return sub.handle }
