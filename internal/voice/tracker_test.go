package voice

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-lab/active-speakers/internal/mutelist"
	"github.com/discord-voice-lab/active-speakers/internal/speaker"
)

type fixedMeter float32

func (m fixedMeter) Level(uint32, []byte) float32 { return float32(m) }

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestTracker(mutes MuteChecker) (*Tracker, *testClock) {
	clk := &testClock{now: time.Unix(1700000000, 0)}
	t := NewTracker(TrackerConfig{
		GuildID:          "g",
		AmbientChannelID: "ambient",
		SelfID:           "bot",
		Mutes:            mutes,
		Meter:            fixedMeter(0.8),
		Now:              clk.Now,
	})
	return t, clk
}

func voiceState(user, channel string) *discordgo.VoiceStateUpdate {
	return &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{GuildID: "g", UserID: user, ChannelID: channel}}
}

var _ speaker.VoiceClient = (*Tracker)(nil)
var _ speaker.ChannelTracker = (*Tracker)(nil)

func TestTrackerParticipants(t *testing.T) {
	tr, _ := newTestTracker(nil)
	tr.HandleVoiceState(nil, voiceState("bot", "ambient"))
	tr.HandleVoiceState(nil, voiceState("b", "ambient"))
	tr.HandleVoiceState(nil, voiceState("a", "ambient"))
	tr.HandleVoiceState(nil, voiceState("c", "other"))
	tr.HandleVoiceState(nil, &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{GuildID: "elsewhere", UserID: "d", ChannelID: "ambient"}})

	got := tr.Participants()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected participants: %v", got)
	}
	if !tr.InProximalChannel() || !tr.VoiceAvailable() {
		t.Fatalf("expected bot in the ambient channel")
	}
	if tr.VoiceEnabled("c") {
		t.Fatalf("user in another channel must not be voice enabled")
	}

	tr.HandleVoiceState(nil, voiceState("a", ""))
	if tr.VoiceEnabled("a") {
		t.Fatalf("expected a to have left")
	}

	tr.HandleVoiceState(nil, voiceState("bot", "other"))
	if tr.InProximalChannel() {
		t.Fatalf("bot moved away from the ambient channel")
	}
	if ch := tr.CurrentChannel(); ch == nil || ch.ID() != "other" || !ch.IsActive() {
		t.Fatalf("unexpected current channel: %v", ch)
	}
	tr.HandleVoiceState(nil, voiceState("bot", ""))
	if tr.CurrentChannel() != nil || tr.VoiceAvailable() {
		t.Fatalf("expected no channel after disconnect")
	}
}

func TestTrackerSpeakingAndFrames(t *testing.T) {
	tr, clk := newTestTracker(nil)
	tr.SetConnected("ambient")
	tr.HandleVoiceState(nil, voiceState("a", "ambient"))

	// frames for an unmapped ssrc are ignored
	tr.ProcessOpusFrame(7, []byte{1, 2, 3, 4})
	if tr.IsSpeaking("a") {
		t.Fatalf("unexpected speaking before ssrc mapping")
	}

	tr.HandleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "a", SSRC: 7, Speaking: false})
	tr.ProcessOpusFrame(7, []byte{1, 2, 3, 4})
	if !tr.IsSpeaking("a") {
		t.Fatalf("expected a speaking right after a frame")
	}
	if p := tr.CurrentPower("a"); p != 0.8 {
		t.Fatalf("unexpected power %v", p)
	}

	clk.now = clk.now.Add(RecentFrameWindow)
	if tr.IsSpeaking("a") || tr.CurrentPower("a") != 0 {
		t.Fatalf("expected silence once the frame window passed")
	}

	tr.HandleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "a", SSRC: 7, Speaking: true})
	if !tr.IsSpeaking("a") {
		t.Fatalf("speaking flag alone should count")
	}
}

func TestTrackerModeratorMute(t *testing.T) {
	tr, _ := newTestTracker(nil)
	tr.SetConnected("ambient")
	tr.HandleVoiceState(nil, &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{GuildID: "g", UserID: "a", ChannelID: "ambient", Mute: true}})
	tr.HandleVoiceState(nil, &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{GuildID: "g", UserID: "b", ChannelID: "ambient", Suppress: true}})
	tr.HandleVoiceState(nil, &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{GuildID: "g", UserID: "c", ChannelID: "ambient", SelfMute: true}})

	if !tr.IsModeratorMuted("a") || !tr.IsModeratorMuted("b") {
		t.Fatalf("server mute and suppress are moderator mutes")
	}
	if tr.IsModeratorMuted("c") {
		t.Fatalf("self mute is not a moderator mute")
	}
}

func TestTrackerMuteListAndVolume(t *testing.T) {
	mutes := mutelist.NewMemory()
	if err := mutes.Add(mutelist.Entry{ID: "a", Flags: mutelist.FlagVoice}); err != nil {
		t.Fatal(err)
	}
	if err := mutes.Add(mutelist.Entry{ID: "b", Flags: mutelist.FlagText}); err != nil {
		t.Fatal(err)
	}
	tr, _ := newTestTracker(mutes)
	if !tr.OnMuteList("a") || tr.OnMuteList("b") {
		t.Fatalf("only voice mutes count")
	}

	if v := tr.UserVolume("a"); v != mutelist.DefaultVolume {
		t.Fatalf("unexpected default volume %v", v)
	}
	tr.SetUserVolume("a", 0.9)
	if v := tr.UserVolume("a"); v != 0.9 {
		t.Fatalf("unexpected volume %v", v)
	}
}

// TestReceiveForwardsFrames drives Receive through a VoiceConnection's
// OpusRecv channel.
func TestReceiveForwardsFrames(t *testing.T) {
	tr, _ := newTestTracker(nil)
	tr.SetConnected("ambient")
	tr.HandleVoiceState(nil, voiceState("a", "ambient"))
	tr.HandleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "a", SSRC: 42})

	vc := &discordgo.VoiceConnection{}
	vc.OpusRecv = make(chan *discordgo.Packet, 2)
	vc.OpusRecv <- nil
	vc.OpusRecv <- &discordgo.Packet{SSRC: 42, Opus: []byte{0x01, 0x02}}
	close(vc.OpusRecv)

	if err := tr.Receive(context.Background(), vc); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !tr.IsSpeaking("a") {
		t.Fatalf("expected the frame to be metered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	vc.OpusRecv = make(chan *discordgo.Packet)
	if err := tr.Receive(ctx, vc); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestChannelAdapter(t *testing.T) {
	tr, _ := newTestTracker(nil)
	ch := NewChannel(tr, "ambient", "")
	if ch.SessionID() != "ambient" {
		t.Fatalf("session id should default to the channel id")
	}
	if ch.IsActive() {
		t.Fatalf("not connected yet")
	}
	tr.SetConnected("ambient")
	if !ch.IsActive() {
		t.Fatalf("expected active after connecting")
	}
}
