package speaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/discord-voice-lab/active-speakers/internal/logging"
)

func observeWarnings(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.WarnLevel)
	logging.SetLogger(zap.New(core).Sugar())
	t.Cleanup(func() { logging.SetLogger(nil) })
	return logs
}

func TestParseRosterShapes(t *testing.T) {
	p, err := ParseRoster([]byte(`{"agent_info":{"a":{"is_moderator":true,"mutes":{"text":true}},"b":{}}}`))
	require.NoError(t, err)
	require.Len(t, p.AgentInfo, 2)
	assert.True(t, *p.AgentInfo["a"].IsModerator)
	assert.True(t, *p.AgentInfo["a"].Mutes.Text)
	assert.Nil(t, p.AgentInfo["b"].IsModerator)

	p, err = ParseRoster([]byte(`{"agents":["a","b"]}`))
	require.NoError(t, err)
	assert.Nil(t, p.AgentInfo)
	assert.Equal(t, []string{"a", "b"}, p.Agents)

	_, err = ParseRoster([]byte(`{"agents":`))
	assert.Error(t, err)

	u, err := ParseUpdate([]byte(`{"agent_updates":{"a":{"transition":"LEAVE"}}}`))
	require.NoError(t, err)
	assert.Equal(t, TransitionLeave, u.AgentUpdates["a"].Transition)
}

func TestSetSpeakersCurrentShape(t *testing.T) {
	r, _ := newTestSession(newFakeVoice(), newFakeClock())
	p, err := ParseRoster([]byte(`{"agent_info":{"a":{"is_moderator":true},"b":{"mutes":{"text":true}}}}`))
	require.NoError(t, err)

	r.SetSpeakers(p)
	require.Equal(t, 2, r.Len())
	a, b := r.Find("a"), r.Find("b")
	assert.Equal(t, StatusTextOnly, a.Status)
	assert.True(t, a.IsModerator)
	assert.False(t, a.ModeratorMutedText)
	assert.False(t, b.IsModerator)
	assert.True(t, b.ModeratorMutedText)
}

func TestSetSpeakersIsIdempotent(t *testing.T) {
	r, _ := newTestSession(newFakeVoice(), newFakeClock())
	p, err := ParseRoster([]byte(`{"agent_info":{"a":{"is_moderator":true},"b":{"mutes":{"text":true}}}}`))
	require.NoError(t, err)

	r.SetSpeakers(p)
	first := r.Infos(true)
	r.SetSpeakers(p)
	assert.Equal(t, first, r.Infos(true))
	assert.Equal(t, 2, r.Len())
}

func TestSetSpeakersLegacyMatchesCurrent(t *testing.T) {
	current, _ := newTestSession(newFakeVoice(), newFakeClock())
	legacy, _ := newTestSession(newFakeVoice(), newFakeClock())

	current.SetSpeakers(RosterPayload{AgentInfo: map[string]AgentInfo{"a": {}, "b": {}, "c": {}}})
	legacy.SetSpeakers(RosterPayload{Agents: []string{"a", "b", "c"}})

	assert.Equal(t, current.Infos(true), legacy.Infos(true))
}

func TestSetSpeakersIgnoresNullIDs(t *testing.T) {
	r, _ := newTestSession(newFakeVoice(), newFakeClock())
	r.SetSpeakers(RosterPayload{Agents: []string{"", "00000000-0000-0000-0000-000000000000", "a"}})
	assert.Equal(t, 1, r.Len())
}

func TestApplyUpdateTransitions(t *testing.T) {
	logs := observeWarnings(t)
	clk := newFakeClock()
	r, _ := newTestSession(newFakeVoice(), clk)
	r.SetSpeakers(RosterPayload{Agents: []string{"a", "b"}})

	r.ApplyUpdate(UpdatePayload{AgentUpdates: map[string]AgentUpdate{
		"a": {Transition: "PAUSE", Info: &AgentInfo{IsModerator: boolp(true)}},
		"b": {Transition: TransitionLeave},
		"c": {Transition: TransitionEnter, Info: &AgentInfo{IsModerator: boolp(true)}},
		"d": {Transition: TransitionLeave},
	}})

	a := r.Find("a")
	assert.Equal(t, StatusTextOnly, a.Status)
	assert.False(t, a.IsModerator, "entry with an unknown transition is skipped")
	assert.Equal(t, StatusNotInChannel, r.Find("b").Status)
	assert.True(t, r.Find("c").IsModerator)
	assert.Nil(t, r.Find("d"))
	assert.Equal(t, 1, logs.FilterMessage("bad membership list update").Len())

	clk.Advance(10100 * time.Millisecond)
	r.Update()
	assert.Nil(t, r.Find("b"))
}

func TestApplyUpdateLegacyShape(t *testing.T) {
	logs := observeWarnings(t)
	r, _ := newTestSession(newFakeVoice(), newFakeClock())
	r.SetSpeakers(RosterPayload{Agents: []string{"a", "b"}})

	r.ApplyUpdate(UpdatePayload{Updates: map[string]string{
		"a": "PAUSE",
		"b": TransitionLeave,
		"c": TransitionEnter,
	}})

	assert.Equal(t, StatusTextOnly, r.Find("a").Status)
	assert.Equal(t, StatusNotInChannel, r.Find("b").Status)
	assert.Equal(t, StatusTextOnly, r.Find("c").Status)
	assert.Equal(t, 1, logs.Len())
}

func TestApplyUpdateMergesInfo(t *testing.T) {
	r, _ := newTestSession(newFakeVoice(), newFakeClock())
	r.SetSpeakers(RosterPayload{AgentInfo: map[string]AgentInfo{"a": {IsModerator: boolp(true)}}})

	var events []Event
	_, ok := r.Subscribe("a", func(ev Event) { events = append(events, ev) })
	require.True(t, ok)

	r.ApplyUpdate(UpdatePayload{AgentUpdates: map[string]AgentUpdate{
		"a":     {Info: &AgentInfo{Mutes: &Mutes{Text: boolp(true)}}},
		"ghost": {Info: &AgentInfo{IsModerator: boolp(true)}},
	}})

	a := r.Find("a")
	assert.True(t, a.IsModerator, "absent flags leave the record alone")
	assert.True(t, a.ModeratorMutedText)
	assert.Nil(t, r.Find("ghost"))
	require.Len(t, events, 1)
	assert.Equal(t, Event{Kind: TextMuteChanged, SpeakerID: "a", Value: true}, events[0])

	// repeating the same flag is not a change
	r.ApplyUpdate(UpdatePayload{AgentUpdates: map[string]AgentUpdate{
		"a": {Info: &AgentInfo{Mutes: &Mutes{Text: boolp(true)}}},
	}})
	assert.Len(t, events, 1)
}

func TestEnterRevivesDepartedSpeaker(t *testing.T) {
	r, _ := newTestSession(newFakeVoice(), newFakeClock())
	r.SetSpeakers(RosterPayload{Agents: []string{"a"}})
	r.ApplyUpdate(UpdatePayload{Updates: map[string]string{"a": TransitionLeave}})
	require.Equal(t, StatusNotInChannel, r.Find("a").Status)

	r.ApplyUpdate(UpdatePayload{Updates: map[string]string{"a": TransitionEnter}})
	assert.Equal(t, StatusTextOnly, r.Find("a").Status)
}

func boolp(b bool) *bool { return &b }
