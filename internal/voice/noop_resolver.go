package voice

import "github.com/discord-voice-lab/active-speakers/internal/speaker"

// Resolver is a speaker.NameResolver that can also name users and channels
// synchronously for logging.
type Resolver interface {
	speaker.NameResolver
	UserName(userID string) string
	ChannelName(channelID string) string
}

// NoopResolver never resolves anything. Useful for tests or when REST
// lookups are disabled.
type NoopResolver struct{}

func NewNoopResolver() *NoopResolver { return &NoopResolver{} }

func (n *NoopResolver) LookupName(string, func(speaker.NameResult)) {}
func (n *NoopResolver) UserName(string) string                      { return "" }
func (n *NoopResolver) ChannelName(string) string                   { return "" }
