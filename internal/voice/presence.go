package voice

import (
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// typingTimeout is how long a typing indicator lasts without a refresh.
const typingTimeout = 10 * time.Second

// TextPresence treats everyone who wrote in a text channel within Radius as
// being in chat range.
type TextPresence struct {
	channelID string
	radius    time.Duration
	selfID    string
	now       func() time.Time

	mu      sync.Mutex
	seen    map[string]time.Time
	typing  map[string]time.Time
	chatted []string
}

func NewTextPresence(channelID, selfID string, radius time.Duration) *TextPresence {
	return &TextPresence{
		channelID: channelID,
		radius:    radius,
		selfID:    selfID,
		now:       time.Now,
		seen:      make(map[string]time.Time),
		typing:    make(map[string]time.Time),
	}
}

// HandleMessageCreate records a chat line.
func (p *TextPresence) HandleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	if m.ChannelID != p.channelID || m.Author.Bot || m.Author.ID == p.selfID {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen[m.Author.ID] = p.now()
	delete(p.typing, m.Author.ID)
	p.chatted = append(p.chatted, m.Author.ID)
}

// HandleTypingStart records a typing indicator.
func (p *TextPresence) HandleTypingStart(s *discordgo.Session, ts *discordgo.TypingStart) {
	if ts == nil || ts.ChannelID != p.channelID || ts.UserID == p.selfID {
		return
	}
	p.mu.Lock()
	p.typing[ts.UserID] = p.now()
	p.mu.Unlock()
}

// Nearby returns ids seen within the radius, pruning older ones.
func (p *TextPresence) Nearby() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	out := make([]string, 0, len(p.seen))
	for id, at := range p.seen {
		if now.Sub(at) > p.radius {
			delete(p.seen, id)
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (p *TextPresence) InRange(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.seen[id]
	return ok && p.now().Sub(at) <= p.radius
}

// Typing reports whether id is typing right now.
func (p *TextPresence) Typing(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.typing[id]
	return ok && p.now().Sub(at) < typingTimeout
}

// DrainChats returns who chatted since the previous call, in order.
func (p *TextPresence) DrainChats() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.chatted
	p.chatted = nil
	return out
}
