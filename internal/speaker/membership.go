package speaker

import "github.com/discord-voice-lab/active-speakers/internal/logging"

// refreshMembership discovers participants according to the variant.
func (r *Registry) refreshMembership() {
	switch r.variant {
	case VariantProximity:
		r.pullVoiceRoster()
		r.scanNeighborhood()
	case VariantActiveChannel:
		r.followActiveChannel()
		r.pullVoiceRoster()
	case VariantSessionRoster:
		// membership arrives through SetSpeakers and ApplyUpdate
	}
}

// pullVoiceRoster adds the voice channel's participants while the channel
// this registry represents is the active one.
func (r *Registry) pullVoiceRoster() {
	if !r.channelActive() {
		return
	}
	for _, id := range r.voice.Participants() {
		r.Upsert(id, "", StatusVoiceActive, KindPerson)
	}
}

// scanNeighborhood adds everyone in chat range and retires text-only
// speakers that moved out of it.
func (r *Registry) scanNeighborhood() {
	if r.nearby == nil {
		return
	}
	for _, id := range r.nearby.Nearby() {
		r.Upsert(id, "", StatusTextOnly, KindPerson)
	}
	now := r.clock.Now()
	for _, s := range r.sorted {
		if s.Status != StatusTextOnly || r.nearby.InRange(s.ID) {
			continue
		}
		s.Status = StatusNotInChannel
		s.DotColor = InactiveColor
		s.resetExpiry(now)
	}
}

// followActiveChannel rebinds to the tracker's current channel. A change of
// channel drops every record at once.
func (r *Registry) followActiveChannel() {
	var cur Channel
	if r.tracker != nil {
		cur = r.tracker.CurrentChannel()
	}
	id := ""
	if cur != nil {
		id = cur.ID()
	}
	if r.bound && id != r.boundID {
		logging.Infow("active voice channel changed; clearing speakers", "registry", r.name, "from", r.boundID, "to", id, "dropped", len(r.sorted))
		r.Clear()
	}
	r.bound = true
	r.boundID = id
	r.channel = cur
}
