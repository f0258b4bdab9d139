package voice

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-lab/active-speakers/internal/logging"
	"github.com/discord-voice-lab/active-speakers/internal/mutelist"
)

// RecentFrameWindow is how long after its last audio frame a user still
// counts as speaking.
const RecentFrameWindow = 300 * time.Millisecond

// MuteChecker answers local mute list queries.
type MuteChecker interface {
	IsMuted(id string, flags mutelist.Flags) bool
}

type userState struct {
	channelID string
	mute      bool
	suppress  bool
	selfMute  bool
	selfDeaf  bool
	speaking  bool
	power     float32
	lastFrame time.Time
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	GuildID string
	// AmbientChannelID is the voice channel that counts as proximal.
	AmbientChannelID string
	// SelfID is the bot's own user id; it never appears as a participant.
	SelfID string
	Mutes  MuteChecker
	Meter  PowerMeter
	Now    func() time.Time
}

// Tracker follows voice state for one guild from discordgo events and
// exposes it as a speaker.VoiceClient. Handlers run on discordgo goroutines;
// queries come from the frame loop, so everything is guarded by mu.
type Tracker struct {
	cfg TrackerConfig

	mu        sync.Mutex
	connected string // voice channel the bot is in, "" when disconnected
	users     map[string]*userState
	ssrcs     map[uint32]string
	volumes   map[string]float32
}

func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Meter == nil {
		cfg.Meter = NewPowerMeter()
	}
	return &Tracker{
		cfg:     cfg,
		users:   make(map[string]*userState),
		ssrcs:   make(map[uint32]string),
		volumes: make(map[string]float32),
	}
}

// SetConnected records the voice channel the bot joined ("" after leaving).
func (t *Tracker) SetConnected(channelID string) {
	t.mu.Lock()
	prev := t.connected
	t.connected = channelID
	t.mu.Unlock()
	if prev != channelID {
		logging.Infow("voice connection changed", "from", prev, "to", channelID)
	}
}

// ConnectedChannel returns the voice channel the bot is in.
func (t *Tracker) ConnectedChannel() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Seed loads the current voice states of the guild from the session state
// cache. Useful right after joining, before any update arrives.
func (t *Tracker) Seed(s *discordgo.Session) {
	if s == nil || s.State == nil {
		return
	}
	g, err := s.State.Guild(t.cfg.GuildID)
	if err != nil || g == nil {
		return
	}
	for _, vs := range g.VoiceStates {
		t.applyVoiceState(vs)
	}
	logging.Debugw("voice states seeded", "guild", t.cfg.GuildID, "count", len(g.VoiceStates))
}

// HandleVoiceState tracks joins, leaves and server mutes.
func (t *Tracker) HandleVoiceState(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if vs == nil || vs.VoiceState == nil {
		return
	}
	if t.cfg.GuildID != "" && vs.GuildID != t.cfg.GuildID {
		return
	}
	t.applyVoiceState(vs.VoiceState)
}

func (t *Tracker) applyVoiceState(vs *discordgo.VoiceState) {
	if vs == nil || vs.UserID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if vs.UserID == t.cfg.SelfID {
		t.connected = vs.ChannelID
		return
	}
	if vs.ChannelID == "" {
		delete(t.users, vs.UserID)
		for ssrc, uid := range t.ssrcs {
			if uid == vs.UserID {
				delete(t.ssrcs, ssrc)
			}
		}
		return
	}
	u := t.users[vs.UserID]
	if u == nil {
		u = &userState{}
		t.users[vs.UserID] = u
	}
	u.channelID = vs.ChannelID
	u.mute = vs.Mute
	u.suppress = vs.Suppress
	u.selfMute = vs.SelfMute
	u.selfDeaf = vs.SelfDeaf
}

// HandleSpeakingUpdate maps SSRCs to users and records the speaking flag.
func (t *Tracker) HandleSpeakingUpdate(vc *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
	if su == nil || su.UserID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ssrcs[uint32(su.SSRC)] = su.UserID
	u := t.users[su.UserID]
	if u == nil {
		// speaking before the voice state arrived; assume the bot's channel
		u = &userState{channelID: t.connected}
		t.users[su.UserID] = u
	}
	u.speaking = su.Speaking
	if !su.Speaking {
		u.power = 0
	}
}

// ProcessOpusFrame meters one received opus frame.
func (t *Tracker) ProcessOpusFrame(ssrc uint32, payload []byte) {
	level := t.cfg.Meter.Level(ssrc, payload)
	now := t.cfg.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	uid, ok := t.ssrcs[ssrc]
	if !ok {
		return
	}
	u := t.users[uid]
	if u == nil {
		return
	}
	u.power = level
	if level > 0 {
		u.lastFrame = now
	}
}

// Receive feeds frames from vc into the tracker until ctx ends or the
// receive channel closes.
func (t *Tracker) Receive(ctx context.Context, vc *discordgo.VoiceConnection) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt, ok := <-vc.OpusRecv:
			if !ok {
				return nil
			}
			if pkt == nil {
				continue
			}
			t.ProcessOpusFrame(pkt.SSRC, pkt.Opus)
		}
	}
}

func (t *Tracker) VoiceAvailable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected != ""
}

// Participants lists the users in the bot's voice channel.
func (t *Tracker) Participants() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected == "" {
		return nil
	}
	var out []string
	for id, u := range t.users {
		if u.channelID == t.connected {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// InProximalChannel reports whether the bot sits in the ambient channel.
func (t *Tracker) InProximalChannel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected != "" && t.connected == t.cfg.AmbientChannelID
}

func (t *Tracker) VoiceEnabled(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.users[id]
	return u != nil && t.connected != "" && u.channelID == t.connected
}

func (t *Tracker) CurrentPower(id string) float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.users[id]
	if u == nil || !t.recentLocked(u) {
		return 0
	}
	return u.power
}

// IsSpeaking is the speaking flag or an audio frame within RecentFrameWindow.
func (t *Tracker) IsSpeaking(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.users[id]
	if u == nil || u.selfMute {
		return false
	}
	return u.speaking || t.recentLocked(u)
}

func (t *Tracker) recentLocked(u *userState) bool {
	return !u.lastFrame.IsZero() && t.cfg.Now().Sub(u.lastFrame) < RecentFrameWindow
}

// IsModeratorMuted reports a server mute or a stage suppress.
func (t *Tracker) IsModeratorMuted(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.users[id]
	return u != nil && (u.mute || u.suppress)
}

func (t *Tracker) OnMuteList(id string) bool {
	return t.cfg.Mutes != nil && t.cfg.Mutes.IsMuted(id, mutelist.FlagVoice)
}

// UserVolume returns the local playback gain for id.
func (t *Tracker) UserVolume(id string) float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.volumes[id]; ok {
		return v
	}
	return mutelist.DefaultVolume
}

func (t *Tracker) SetUserVolume(id string, volume float32) {
	t.mu.Lock()
	t.volumes[id] = volume
	t.mu.Unlock()
}
