package main

import (
	"context"
	"errors"
	"time"

	"github.com/discord-voice-lab/active-speakers/internal/logging"
	"github.com/discord-voice-lab/active-speakers/internal/panel"
	"github.com/discord-voice-lab/active-speakers/internal/roster"
	"github.com/discord-voice-lab/active-speakers/internal/speaker"
)

// chatSource reports text channel activity. *voice.TextPresence satisfies it.
type chatSource interface {
	DrainChats() []string
	Typing(id string) bool
}

// messageSource hands over queued session messages. *roster.Feed satisfies it.
type messageSource interface {
	Drain() ([]roster.Message, error)
}

// surfaceTracker keeps the error surface of the active voice channel open.
type surfaceTracker interface {
	ConnectedChannel() string
}

// frameLoop owns the registries and panels; everything that mutates them
// runs inside tick.
type frameLoop struct {
	interval time.Duration
	regs     []*speaker.Registry
	panels   []*panel.Panel

	sessionReg   *speaker.Registry
	sessionPanel *panel.Panel

	chats chatSource
	feed  messageSource

	channels   surfaceTracker
	onChannel  func(prev, cur string)
	lastActive string
}

func (l *frameLoop) run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *frameLoop) tick() {
	if l.channels != nil && l.onChannel != nil {
		if cur := l.channels.ConnectedChannel(); cur != l.lastActive {
			l.onChannel(l.lastActive, cur)
			l.lastActive = cur
		}
	}

	if l.feed != nil {
		msgs, err := l.feed.Drain()
		for _, m := range msgs {
			l.applyMessage(m)
		}
		if errors.Is(err, roster.ErrFeedClosed) {
			l.feed = nil
		}
	}

	var chatted []string
	if l.chats != nil {
		chatted = l.chats.DrainChats()
	}
	for _, reg := range l.regs {
		for _, id := range chatted {
			reg.SpeakerChatted(id)
		}
		if l.chats != nil {
			for _, info := range reg.Infos(true) {
				reg.SetTyping(info.ID, l.chats.Typing(info.ID))
			}
		}
	}

	for _, p := range l.panels {
		p.Refresh()
	}
}

func (l *frameLoop) applyMessage(m roster.Message) {
	if l.sessionReg == nil {
		return
	}
	if m.Type == roster.TypeModerationMode {
		if m.ModeratedVoice != nil && l.sessionPanel != nil && (m.SessionID == "" || m.SessionID == l.sessionReg.SessionID()) {
			l.sessionPanel.SetVoiceModerationMode(*m.ModeratedVoice)
		}
		return
	}
	if !roster.Apply(l.sessionReg, m) {
		logging.Debugw("roster message for another session", append(logging.SessionFields(m.SessionID), "type", m.Type)...)
	}
}
