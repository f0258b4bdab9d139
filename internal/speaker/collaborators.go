package speaker

import (
	"time"

	"github.com/google/uuid"
)

// OverdrivenPowerLevel is the voice power above which a speaker is drawn
// with the overdriven color.
const OverdrivenPowerLevel float32 = 0.7

// SpeakerTimeout is how long a record that left the channel is kept.
const SpeakerTimeout = 10 * time.Second

// VoiceClient is the live voice telemetry source.
type VoiceClient interface {
	// VoiceAvailable reports whether voice is enabled at all.
	VoiceAvailable() bool
	// Participants lists ids in the voice channel currently joined.
	Participants() []string
	InProximalChannel() bool
	VoiceEnabled(id string) bool
	CurrentPower(id string) float32
	IsSpeaking(id string) bool
	IsModeratorMuted(id string) bool
	OnMuteList(id string) bool
	UserVolume(id string) float32
	SetUserVolume(id string, volume float32)
}

// Channel is a voice/text conversation context a registry can be bound to.
type Channel interface {
	ID() string
	SessionID() string
	IsActive() bool
}

// ChannelTracker reports the voice channel that is currently active, or nil.
type ChannelTracker interface {
	CurrentChannel() Channel
}

// Neighborhood lists participants within chat range.
type Neighborhood interface {
	Nearby() []string
	InRange(id string) bool
}

// NameResult is delivered by a NameResolver once a lookup completes.
type NameResult struct {
	First   string
	Last    string
	IsGroup bool
}

// NameResolver resolves display names asynchronously. done may be called
// from any goroutine, at any later time.
type NameResolver interface {
	LookupName(id string, done func(NameResult))
}

// VolumeStore holds per-participant volumes across sessions.
type VolumeStore interface {
	SavedVolume(id string) float32
}

// IsNullID reports whether id identifies nobody.
func IsNullID(id string) bool {
	return id == "" || id == uuid.Nil.String()
}
