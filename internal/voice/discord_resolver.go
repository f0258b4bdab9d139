package voice

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-lab/active-speakers/internal/logging"
	"github.com/discord-voice-lab/active-speakers/internal/speaker"
)

// DiscordResolver looks up display names through the session state cache
// and the REST API. Results are cached for cacheTTL.
type DiscordResolver struct {
	s       *discordgo.Session
	guildID string
	// fetch is swapped in tests.
	fetch func(userID string) (string, error)

	mu           sync.Mutex
	userCache    map[string]cacheEntry
	channelCache map[string]cacheEntry
	now          func() time.Time
}

type cacheEntry struct {
	val    string
	expiry time.Time
}

// cacheTTL controls how long a cached name is valid.
var cacheTTL = 5 * time.Minute

func NewDiscordResolver(s *discordgo.Session, guildID string) *DiscordResolver {
	d := &DiscordResolver{
		s:            s,
		guildID:      guildID,
		userCache:    make(map[string]cacheEntry),
		channelCache: make(map[string]cacheEntry),
		now:          time.Now,
	}
	d.fetch = d.fetchUser
	return d
}

func (d *DiscordResolver) lookupCache(m map[string]cacheEntry, id string) (string, bool) {
	if id == "" {
		return "", false
	}
	if e, ok := m[id]; ok {
		if d.now().Before(e.expiry) {
			return e.val, true
		}
		delete(m, id)
	}
	return "", false
}

func (d *DiscordResolver) setCache(m map[string]cacheEntry, id, val string) {
	m[id] = cacheEntry{val: val, expiry: d.now().Add(cacheTTL)}
}

// LookupName resolves userID in the background and calls done with the
// result. done is not called when the lookup fails.
func (d *DiscordResolver) LookupName(userID string, done func(speaker.NameResult)) {
	d.mu.Lock()
	if v, ok := d.lookupCache(d.userCache, userID); ok {
		d.mu.Unlock()
		go done(speaker.NameResult{First: v})
		return
	}
	d.mu.Unlock()
	go func() {
		name, err := d.fetch(userID)
		if err != nil || name == "" {
			logging.Debugw("name lookup failed", "speaker.id", userID, "err", err)
			return
		}
		d.mu.Lock()
		d.setCache(d.userCache, userID, name)
		d.mu.Unlock()
		done(speaker.NameResult{First: name})
	}()
}

// UserName resolves synchronously, for logging.
func (d *DiscordResolver) UserName(userID string) string {
	if userID == "" {
		return ""
	}
	d.mu.Lock()
	if v, ok := d.lookupCache(d.userCache, userID); ok {
		d.mu.Unlock()
		return v
	}
	d.mu.Unlock()
	name, err := d.fetch(userID)
	if err != nil {
		return ""
	}
	d.mu.Lock()
	d.setCache(d.userCache, userID, name)
	d.mu.Unlock()
	return name
}

// fetchUser prefers the guild nickname, then the global display name, then
// the username.
func (d *DiscordResolver) fetchUser(userID string) (string, error) {
	if d.s == nil {
		return "", nil
	}
	if d.s.State != nil && d.guildID != "" {
		if m, err := d.s.State.Member(d.guildID, userID); err == nil && m != nil {
			if m.Nick != "" {
				return m.Nick, nil
			}
			if m.User != nil {
				return displayName(m.User), nil
			}
		}
	}
	u, err := d.s.User(userID)
	if err != nil {
		return "", err
	}
	return displayName(u), nil
}

func displayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func (d *DiscordResolver) ChannelName(channelID string) string {
	if d.s == nil || channelID == "" {
		return ""
	}
	d.mu.Lock()
	if v, ok := d.lookupCache(d.channelCache, channelID); ok {
		d.mu.Unlock()
		return v
	}
	d.mu.Unlock()
	if d.s.State != nil {
		if c, err := d.s.State.Channel(channelID); err == nil && c != nil {
			d.mu.Lock()
			d.setCache(d.channelCache, channelID, c.Name)
			d.mu.Unlock()
			return c.Name
		}
	}
	if c, err := d.s.Channel(channelID); err == nil && c != nil {
		d.mu.Lock()
		d.setCache(d.channelCache, channelID, c.Name)
		d.mu.Unlock()
		return c.Name
	}
	return ""
}
