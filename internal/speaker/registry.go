package speaker

import (
	"sort"
	"sync"
	"time"

	"github.com/discord-voice-lab/active-speakers/internal/logging"
)

// Clock is the time source of a registry.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Variant selects where a registry discovers new participants.
type Variant int

const (
	// VariantProximity merges the ambient voice roster with everyone in chat range.
	VariantProximity Variant = iota
	// VariantActiveChannel follows whichever voice channel is active and
	// starts over when it changes.
	VariantActiveChannel
	// VariantSessionRoster is fed by roster messages from a remote session.
	VariantSessionRoster
)

func (v Variant) String() string {
	switch v {
	case VariantProximity:
		return "proximity"
	case VariantActiveChannel:
		return "active_channel"
	case VariantSessionRoster:
		return "session_roster"
	default:
		return "unknown"
	}
}

// Options are the collaborators shared by every variant.
type Options struct {
	// Name labels the registry in logs.
	Name    string
	Voice   VoiceClient
	Names   NameResolver
	Volumes VolumeStore
	Clock   Clock

	SpeakingColor   *Color
	OverdrivenColor *Color
}

type pendingName struct {
	handle Handle
	result NameResult
}

type listener struct {
	id  uint64
	gen uint64
	fn  func(Event)
}

// Registry is the authoritative set of speakers for one channel. It is not
// safe for concurrent use: Update, Upsert and the roster entry points must be
// called from the same goroutine. Name lookups may complete on any goroutine.
type Registry struct {
	name    string
	variant Variant

	voice   VoiceClient
	names   NameResolver
	volumes VolumeStore
	clock   Clock

	channel Channel
	tracker ChannelTracker
	nearby  Neighborhood

	boundID string
	bound   bool

	speaking   Color
	overdriven Color

	start    time.Time
	speakers map[string]*Speaker
	sorted   []*Speaker
	nextGen  uint64

	listeners map[string][]listener
	nextSub   uint64

	mu      sync.Mutex
	pending []pendingName
}

func newRegistry(v Variant, opts Options) *Registry {
	r := &Registry{
		name:       opts.Name,
		variant:    v,
		voice:      opts.Voice,
		names:      opts.Names,
		volumes:    opts.Volumes,
		clock:      opts.Clock,
		speaking:   DefaultSpeaking,
		overdriven: DefaultOverdrive,
		speakers:   make(map[string]*Speaker),
		listeners:  make(map[string][]listener),
	}
	if r.clock == nil {
		r.clock = systemClock{}
	}
	if opts.SpeakingColor != nil {
		r.speaking = *opts.SpeakingColor
	}
	if opts.OverdrivenColor != nil {
		r.overdriven = *opts.OverdrivenColor
	}
	if r.name == "" {
		r.name = v.String()
	}
	r.start = r.clock.Now()
	return r
}

// NewProximityRegistry tracks the ambient channel plus everyone in chat
// range. channel may be nil, in which case the voice client's proximal flag
// decides whether voice telemetry applies.
func NewProximityRegistry(opts Options, channel Channel, nearby Neighborhood) *Registry {
	r := newRegistry(VariantProximity, opts)
	r.channel = channel
	r.nearby = nearby
	return r
}

// NewActiveChannelRegistry follows tracker's current channel.
func NewActiveChannelRegistry(opts Options, tracker ChannelTracker) *Registry {
	r := newRegistry(VariantActiveChannel, opts)
	r.tracker = tracker
	return r
}

// NewSessionRegistry is bound to a single session channel fed by SetSpeakers
// and ApplyUpdate.
func NewSessionRegistry(opts Options, channel Channel) *Registry {
	r := newRegistry(VariantSessionRoster, opts)
	r.channel = channel
	return r
}

func (r *Registry) Variant() Variant { return r.variant }

// Channel returns the channel the registry is bound to, or nil.
func (r *Registry) Channel() Channel { return r.channel }

// SessionID returns the bound channel's session id ("" when unbound).
func (r *Registry) SessionID() string {
	if r.channel == nil {
		return ""
	}
	return r.channel.SessionID()
}

// IsVoiceActive reports whether voice is available and the bound channel is
// the active one.
func (r *Registry) IsVoiceActive() bool {
	return r.voice != nil && r.voice.VoiceAvailable() && r.channel != nil && r.channel.IsActive()
}

// Upsert registers id or merges status into its existing record. The more
// urgent status wins and the departure timer restarts. Returns nil for a
// null id.
func (r *Registry) Upsert(id, name string, status Status, kind Kind) *Speaker {
	if IsNullID(id) {
		return nil
	}
	now := r.clock.Now()
	if s, ok := r.speakers[id]; ok {
		if status < s.Status {
			s.Status = status
		}
		s.resetExpiry(now)
		// chat relayed by attachments arrives under the wearer's id, so a
		// record first seen as an object can turn out to be a person
		if kind == KindPerson && s.Kind == KindObject {
			s.Kind = KindPerson
			r.lookupName(s)
		}
		return s
	}

	r.nextGen++
	s := &Speaker{
		ID:       id,
		Kind:     kind,
		Status:   status,
		DotColor: Color{1, 1, 1, 1},
		handle:   Handle{ID: id, gen: r.nextGen},
	}
	s.resetExpiry(now)
	r.speakers[id] = s
	r.sorted = append(r.sorted, s)

	if name == "" && kind == KindPerson {
		r.lookupName(s)
	} else {
		s.DisplayName = name
	}
	if r.voice != nil && r.volumes != nil {
		r.voice.SetUserVolume(id, r.volumes.SavedVolume(id))
	}
	logging.Debugw("speaker added", append(logging.SpeakerFields(id, s.DisplayName), "registry", r.name, "status", status.String())...)
	return s
}

// Find returns the record for id, or nil.
func (r *Registry) Find(id string) *Speaker {
	return r.speakers[id]
}

// Resolve returns the record named by h if it is still registered.
func (r *Registry) Resolve(h Handle) *Speaker {
	s := r.speakers[h.ID]
	if s == nil || s.handle.gen != h.gen {
		return nil
	}
	return s
}

// List returns the records in sort order, optionally without text-only ones.
func (r *Registry) List(includeTextOnly bool) []*Speaker {
	out := make([]*Speaker, 0, len(r.sorted))
	for _, s := range r.sorted {
		if includeTextOnly || s.Status != StatusTextOnly {
			out = append(out, s)
		}
	}
	return out
}

// Infos is List as value snapshots.
func (r *Registry) Infos(includeTextOnly bool) []Info {
	list := r.List(includeTextOnly)
	out := make([]Info, len(list))
	for i, s := range list {
		out[i] = s.Info()
	}
	return out
}

// Len returns the number of records.
func (r *Registry) Len() int { return len(r.sorted) }

// Clear drops every record immediately.
func (r *Registry) Clear() {
	for id := range r.speakers {
		delete(r.listeners, id)
	}
	r.speakers = make(map[string]*Speaker)
	r.sorted = nil
}

// SpeakerChatted records a chat from id, in text or voice.
func (r *Registry) SpeakerChatted(id string) {
	if s := r.speakers[id]; s != nil {
		s.LastSpokeTime = r.elapsed()
		s.HasSpoken = true
	}
}

// SetTyping marks whether id is currently typing.
func (r *Registry) SetTyping(id string, typing bool) {
	if s := r.speakers[id]; s != nil {
		s.Typing = typing
	}
}

// Subscribe registers fn for moderation events on id's current record. The
// subscription ends with Unsubscribe or when the record is removed.
func (r *Registry) Subscribe(id string, fn func(Event)) (Subscription, bool) {
	s := r.speakers[id]
	if s == nil || fn == nil {
		return Subscription{}, false
	}
	r.nextSub++
	r.listeners[id] = append(r.listeners[id], listener{id: r.nextSub, gen: s.handle.gen, fn: fn})
	return Subscription{handle: s.handle, id: r.nextSub}, true
}

// Unsubscribe removes sub. Unknown subscriptions are ignored.
func (r *Registry) Unsubscribe(sub Subscription) {
	ls := r.listeners[sub.handle.ID]
	for i, l := range ls {
		if l.id == sub.id {
			ls = append(ls[:i], ls[i+1:]...)
			break
		}
	}
	if len(ls) == 0 {
		delete(r.listeners, sub.handle.ID)
		return
	}
	r.listeners[sub.handle.ID] = ls
}

func (r *Registry) fire(s *Speaker, kind EventKind, value bool) {
	ev := Event{Kind: kind, SpeakerID: s.ID, Value: value}
	for _, l := range r.listeners[s.ID] {
		if l.gen == s.handle.gen {
			l.fn(ev)
		}
	}
}

func (r *Registry) setModeratorMutedVoice(s *Speaker, muted bool) {
	if s.ModeratorMutedVoice == muted {
		return
	}
	s.ModeratorMutedVoice = muted
	r.fire(s, VoiceMuteChanged, muted)
}

func (r *Registry) setModeratorMutedText(s *Speaker, muted bool) {
	if s.ModeratorMutedText == muted {
		return
	}
	s.ModeratorMutedText = muted
	r.fire(s, TextMuteChanged, muted)
}

func (r *Registry) lookupName(s *Speaker) {
	if r.names == nil {
		return
	}
	h := s.handle
	r.names.LookupName(s.ID, func(res NameResult) {
		r.mu.Lock()
		r.pending = append(r.pending, pendingName{handle: h, result: res})
		r.mu.Unlock()
	})
}

// applyNames hands completed lookups to records that still exist.
func (r *Registry) applyNames() {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()
	for _, p := range pending {
		s := r.Resolve(p.handle)
		if s == nil {
			logging.Debugw("discarding name for removed speaker", "speaker.id", p.handle.ID, "registry", r.name)
			continue
		}
		s.DisplayName = formatName(p.result)
	}
}

func (r *Registry) elapsed() time.Duration {
	return r.clock.Now().Sub(r.start)
}

// Update refreshes membership and voice state, sorts and evicts. It does
// nothing while no voice client is configured.
func (r *Registry) Update() {
	if r.voice == nil {
		return
	}
	r.applyNames()
	r.refreshMembership()

	active := r.channelActive()
	for _, s := range r.sorted {
		if active && r.voice.VoiceEnabled(s.ID) {
			r.updateVoiceState(s)
		} else if s.Status != StatusNotInChannel {
			// no voice telemetry for this speaker any more
			s.Status = StatusTextOnly
			s.SpeechVolume = 0
			s.DotColor = ActiveColor
		}
	}

	sortSpeakers(r.sorted)

	now := r.clock.Now()
	recent := 0
	kept := r.sorted[:0]
	for i, s := range r.sorted {
		if s.Status == StatusHasSpoken {
			s.DotColor = r.speaking.Lerp(ActiveColor, clampRescale(float32(recent), -2, 3, 0, 1))
			recent++
		}
		s.SortIndex = i
		if shouldEvict(s, now) {
			delete(r.speakers, s.ID)
			delete(r.listeners, s.ID)
			logging.Debugw("speaker removed", append(logging.SpeakerFields(s.ID, s.DisplayName), "registry", r.name)...)
			continue
		}
		kept = append(kept, s)
	}
	for i := len(kept); i < len(r.sorted); i++ {
		r.sorted[i] = nil
	}
	r.sorted = kept
}

func (r *Registry) updateVoiceState(s *Speaker) {
	s.SpeechVolume = r.voice.CurrentPower(s.ID)
	r.setModeratorMutedVoice(s, r.voice.IsModeratorMuted(s.ID))

	switch {
	case r.voice.OnMuteList(s.ID) || s.ModeratorMutedVoice:
		s.Status = StatusMuted
	case r.voice.IsSpeaking(s.ID):
		if s.Status != StatusSpeaking {
			s.LastSpokeTime = r.elapsed()
			s.HasSpoken = true
		}
		s.Status = StatusSpeaking
		s.DotColor = r.speaking
		if s.SpeechVolume > OverdrivenPowerLevel {
			s.DotColor = r.overdriven
		}
	default:
		s.SpeechVolume = 0
		s.DotColor = ActiveColor
		if s.HasSpoken {
			s.Status = StatusHasSpoken
		} else {
			s.Status = StatusVoiceActive
		}
	}
}

func (r *Registry) channelActive() bool {
	if r.variant == VariantSessionRoster {
		return r.channel != nil && r.channel.IsActive()
	}
	if r.channel == nil {
		return r.voice.InProximalChannel()
	}
	return r.channel.IsActive()
}

// sortSpeakers orders by status, then most recent speech, then name. Ties
// on all three fall back to the id so the order never flaps.
func sortSpeakers(list []*Speaker) {
	sort.SliceStable(list, func(i, j int) bool { return less(list[i], list[j]) })
}

func less(a, b *Speaker) bool {
	if a.Status != b.Status {
		return a.Status < b.Status
	}
	if a.LastSpokeTime != b.LastSpokeTime {
		return a.LastSpokeTime > b.LastSpokeTime
	}
	if a.DisplayName != b.DisplayName {
		return a.DisplayName < b.DisplayName
	}
	return a.ID < b.ID
}

func shouldEvict(s *Speaker, now time.Time) bool {
	return s.Status == StatusNotInChannel && s.expired(now)
}
