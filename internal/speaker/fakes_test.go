package speaker

import "time"

type fakeClock struct{ now time.Time }

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1700000000, 0)} }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type participant struct {
	enabled  bool
	power    float32
	speaking bool
	modMuted bool
	muted    bool
}

type fakeVoice struct {
	available    bool
	proximal     bool
	participants []string
	state        map[string]*participant
	volumes      map[string]float32
}

func newFakeVoice() *fakeVoice {
	return &fakeVoice{
		available: true,
		state:     make(map[string]*participant),
		volumes:   make(map[string]float32),
	}
}

// join puts id in the voice roster with voice enabled.
func (v *fakeVoice) join(id string) *participant {
	v.participants = append(v.participants, id)
	p := &participant{enabled: true}
	v.state[id] = p
	return p
}

func (v *fakeVoice) VoiceAvailable() bool    { return v.available }
func (v *fakeVoice) Participants() []string  { return v.participants }
func (v *fakeVoice) InProximalChannel() bool { return v.proximal }
func (v *fakeVoice) VoiceEnabled(id string) bool {
	p := v.state[id]
	return p != nil && p.enabled
}
func (v *fakeVoice) CurrentPower(id string) float32 {
	if p := v.state[id]; p != nil {
		return p.power
	}
	return 0
}
func (v *fakeVoice) IsSpeaking(id string) bool {
	p := v.state[id]
	return p != nil && p.speaking
}
func (v *fakeVoice) IsModeratorMuted(id string) bool {
	p := v.state[id]
	return p != nil && p.modMuted
}
func (v *fakeVoice) OnMuteList(id string) bool {
	p := v.state[id]
	return p != nil && p.muted
}
func (v *fakeVoice) UserVolume(id string) float32            { return v.volumes[id] }
func (v *fakeVoice) SetUserVolume(id string, volume float32) { v.volumes[id] = volume }

type fakeChannel struct {
	id     string
	active bool
}

func (c *fakeChannel) ID() string        { return c.id }
func (c *fakeChannel) SessionID() string { return "session-" + c.id }
func (c *fakeChannel) IsActive() bool    { return c.active }

type fakeTracker struct{ cur Channel }

func (t *fakeTracker) CurrentChannel() Channel { return t.cur }

type fakeNearby struct{ ids map[string]bool }

func (n *fakeNearby) Nearby() []string {
	out := make([]string, 0, len(n.ids))
	for id, in := range n.ids {
		if in {
			out = append(out, id)
		}
	}
	return out
}
func (n *fakeNearby) InRange(id string) bool { return n.ids[id] }

// fakeNames records lookups and completes them when told to.
type fakeNames struct {
	calls []string
	done  map[string][]func(NameResult)
}

func newFakeNames() *fakeNames { return &fakeNames{done: make(map[string][]func(NameResult))} }

func (n *fakeNames) LookupName(id string, done func(NameResult)) {
	n.calls = append(n.calls, id)
	n.done[id] = append(n.done[id], done)
}

// complete finishes the oldest outstanding lookup for id.
func (n *fakeNames) complete(id string, r NameResult) {
	pending := n.done[id]
	if len(pending) == 0 {
		return
	}
	n.done[id] = pending[1:]
	pending[0](r)
}

type fakeVolumes map[string]float32

func (f fakeVolumes) SavedVolume(id string) float32 { return f[id] }
