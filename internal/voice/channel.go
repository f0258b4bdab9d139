package voice

import "github.com/discord-voice-lab/active-speakers/internal/speaker"

// Channel is a Discord voice channel seen through a Tracker. It is active
// while the bot is connected to it.
type Channel struct {
	id        string
	sessionID string
	tracker   *Tracker
}

// NewChannel binds channelID to t. sessionID names the moderation session of
// the channel; it defaults to the channel id.
func NewChannel(t *Tracker, channelID, sessionID string) *Channel {
	if sessionID == "" {
		sessionID = channelID
	}
	return &Channel{id: channelID, sessionID: sessionID, tracker: t}
}

func (c *Channel) ID() string        { return c.id }
func (c *Channel) SessionID() string { return c.sessionID }

func (c *Channel) IsActive() bool {
	return c.id != "" && c.tracker.ConnectedChannel() == c.id
}

// CurrentChannel returns whichever voice channel the bot is in, or nil.
func (t *Tracker) CurrentChannel() speaker.Channel {
	id := t.ConnectedChannel()
	if id == "" {
		return nil
	}
	return NewChannel(t, id, "")
}
