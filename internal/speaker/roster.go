package speaker

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/discord-voice-lab/active-speakers/internal/logging"
)

const (
	TransitionEnter = "ENTER"
	TransitionLeave = "LEAVE"
)

// Mutes carries moderator mute flags as they appear in session messages.
type Mutes struct {
	Text  *bool `json:"text,omitempty"`
	Voice *bool `json:"voice,omitempty"`
}

// AgentInfo is the per-participant part of a roster or update.
type AgentInfo struct {
	IsModerator *bool  `json:"is_moderator,omitempty"`
	Mutes       *Mutes `json:"mutes,omitempty"`
}

// RosterPayload is a full session roster. AgentInfo is the current shape;
// Agents is the legacy list of bare ids.
type RosterPayload struct {
	AgentInfo map[string]AgentInfo `json:"agent_info,omitempty"`
	Agents    []string             `json:"agents,omitempty"`
}

// AgentUpdate is one entry of the current update shape.
type AgentUpdate struct {
	Transition string     `json:"transition,omitempty"`
	Info       *AgentInfo `json:"info,omitempty"`
}

// UpdatePayload is a membership delta. AgentUpdates is the current shape;
// Updates is the legacy id -> transition map.
type UpdatePayload struct {
	AgentUpdates map[string]AgentUpdate `json:"agent_updates,omitempty"`
	Updates      map[string]string      `json:"updates,omitempty"`
}

// ParseRoster decodes a roster message body.
func ParseRoster(data []byte) (RosterPayload, error) {
	var p RosterPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return RosterPayload{}, fmt.Errorf("parse roster: %w", err)
	}
	return p, nil
}

// ParseUpdate decodes an update message body.
func ParseUpdate(data []byte) (UpdatePayload, error) {
	var p UpdatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return UpdatePayload{}, fmt.Errorf("parse roster update: %w", err)
	}
	return p, nil
}

// SetSpeakers applies a full roster. Every listed participant gets a
// text-only record; flags from the current shape are merged in.
func (r *Registry) SetSpeakers(p RosterPayload) {
	if p.AgentInfo != nil {
		for _, id := range sortedKeys(p.AgentInfo) {
			s := r.Upsert(id, "", StatusTextOnly, KindPerson)
			if s == nil {
				continue
			}
			info := p.AgentInfo[id]
			s.IsModerator = info.IsModerator != nil && *info.IsModerator
			r.setModeratorMutedText(s, info.Mutes != nil && info.Mutes.Text != nil && *info.Mutes.Text)
		}
		return
	}
	for _, id := range p.Agents {
		r.Upsert(id, "", StatusTextOnly, KindPerson)
	}
}

// ApplyUpdate applies ENTER/LEAVE transitions and flag changes. An entry
// with an unknown transition is logged and skipped; the rest still apply.
func (r *Registry) ApplyUpdate(p UpdatePayload) {
	if p.AgentUpdates != nil {
		for _, id := range sortedKeys(p.AgentUpdates) {
			u := p.AgentUpdates[id]
			s := r.Find(id)
			if u.Transition != "" {
				var ok bool
				if s, ok = r.transition(id, s, u.Transition); !ok {
					continue
				}
			}
			if s == nil || u.Info == nil {
				continue
			}
			if u.Info.IsModerator != nil {
				s.IsModerator = *u.Info.IsModerator
			}
			if u.Info.Mutes != nil && u.Info.Mutes.Text != nil {
				r.setModeratorMutedText(s, *u.Info.Mutes.Text)
			}
		}
		return
	}
	for _, id := range sortedKeys(p.Updates) {
		r.transition(id, r.Find(id), p.Updates[id])
	}
}

// transition applies one ENTER or LEAVE. It reports false for anything else.
func (r *Registry) transition(id string, s *Speaker, t string) (*Speaker, bool) {
	switch t {
	case TransitionLeave:
		if s != nil {
			s.Status = StatusNotInChannel
			s.DotColor = InactiveColor
			s.resetExpiry(r.clock.Now())
		}
		return s, true
	case TransitionEnter:
		return r.Upsert(id, "", StatusTextOnly, KindPerson), true
	default:
		logging.Warnw("bad membership list update", append(logging.SessionFields(r.SessionID()), "speaker.id", id, "transition", t)...)
		return s, false
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
