package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/discord-voice-lab/active-speakers/internal/config"
	"github.com/discord-voice-lab/active-speakers/internal/logging"
	"github.com/discord-voice-lab/active-speakers/internal/mcp"
	"github.com/discord-voice-lab/active-speakers/internal/moderation"
	"github.com/discord-voice-lab/active-speakers/internal/mutelist"
	"github.com/discord-voice-lab/active-speakers/internal/panel"
	"github.com/discord-voice-lab/active-speakers/internal/roster"
	"github.com/discord-voice-lab/active-speakers/internal/speaker"
	"github.com/discord-voice-lab/active-speakers/internal/voice"
)

const version = "v0.1.0"

const shutdownTimeout = 10 * time.Second

func main() {
	logging.Init()
	defer logging.Sync()

	res, err := config.Load()
	if err != nil {
		logging.FatalExitf("load config", "error", err)
	}
	cfg := res.Config
	if err := cfg.Validate(); err != nil {
		logging.FatalExitf("invalid config", "error", err)
	}
	logging.Infow("config loaded", "sources", res.Sources, "panel_source", cfg.PanelSource, "frame_ms", cfg.FrameMS)

	mutes, err := mutelist.Open(cfg.MuteListPath)
	if err != nil {
		logging.FatalExitf("open mute list", "path", cfg.MuteListPath, "error", err)
	}

	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		logging.FatalExitf("discordgo.New", "error", err)
	}
	// MessageContent is privileged and not needed: only authors are tracked.
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageTyping
	if err := dg.Open(); err != nil {
		logging.FatalExitf("discord open", "error", err)
	}

	selfID := cfg.SelfUserID
	if selfID == "" && dg.State != nil && dg.State.User != nil {
		selfID = dg.State.User.ID
	}

	tracker := voice.NewTracker(voice.TrackerConfig{
		GuildID:          cfg.GuildID,
		AmbientChannelID: cfg.AmbientChannelID,
		SelfID:           selfID,
		Mutes:            mutes,
	})
	presence := voice.NewTextPresence(cfg.TextChannelID, selfID, cfg.ChatRadius())
	dg.AddHandler(tracker.HandleVoiceState)
	dg.AddHandler(presence.HandleMessageCreate)
	dg.AddHandler(presence.HandleTypingStart)
	tracker.Seed(dg)

	var resolver voice.Resolver = voice.NewNoopResolver()
	if cfg.NameLookups() {
		resolver = voice.NewDiscordResolver(dg, cfg.GuildID)
	}
	surfaces := moderation.NewSurfaces()
	textSurface := channelSurface(dg, cfg.TextChannelID)

	var (
		modClient *moderation.Client
		moderator panel.Moderator
		mcpMod    mcp.Moderation
	)
	if cfg.CapabilityURL != "" {
		modClient = moderation.New(moderation.Config{URL: cfg.CapabilityURL, AuthToken: cfg.CapabilityToken}, surfaces)
		moderator, mcpMod = modClient, modClient
	}

	opts := speaker.Options{Voice: tracker, Names: resolver, Volumes: mutes}
	sessionChannel := voice.NewChannel(tracker, cfg.VoiceChannelID, cfg.SessionID)
	regs := []*speaker.Registry{
		speaker.NewProximityRegistry(opts, voice.NewChannel(tracker, cfg.AmbientChannelID, ""), presence),
		speaker.NewActiveChannelRegistry(opts, tracker),
		speaker.NewSessionRegistry(opts, sessionChannel),
	}
	if textSurface != nil {
		surfaces.Open(sessionChannel.SessionID(), textSurface)
	}

	loop := &frameLoop{
		interval:   cfg.FrameInterval(),
		regs:       regs,
		sessionReg: regs[2],
		chats:      presence,
		channels:   tracker,
	}
	snapshots := make(map[string]mcp.Snapshotter, len(regs))
	for _, reg := range regs {
		p := panel.New(panel.Options{
			Registry:         reg,
			Voice:            tracker,
			MuteList:         mutes,
			Moderator:        moderator,
			SelfID:           selfID,
			ShowTextChatters: cfg.TextChatters(),
			OpenProfile: func(id string) {
				logging.Infow("open profile", "speaker_id", id, "url", "https://discord.com/users/"+id)
			},
			OpenIM: func(id, name string) {
				ch, err := dg.UserChannelCreate(id)
				if err != nil {
					logging.Warnw("open direct message failed", append(logging.SpeakerFields(id, name), "error", err)...)
					return
				}
				logging.Infow("direct message opened", append(logging.SpeakerFields(id, name), "channel_id", ch.ID)...)
			},
		})
		loop.panels = append(loop.panels, p)
		snapshots[reg.Variant().String()] = p
	}
	loop.sessionPanel = loop.panels[2]
	if textSurface != nil {
		fixed := sessionChannel.SessionID()
		loop.onChannel = func(prev, cur string) {
			// the active-channel registry's session id is the channel id
			if prev != "" && prev != fixed {
				surfaces.Close(prev)
			}
			if cur != "" {
				surfaces.Open(cur, textSurface)
			}
		}
	}

	var vc *discordgo.VoiceConnection
	if cfg.VoiceChannelID != "" {
		logging.Infow("joining voice channel", logging.ChannelFields(cfg.VoiceChannelID, resolver.ChannelName(cfg.VoiceChannelID))...)
		vc, err = dg.ChannelVoiceJoin(cfg.GuildID, cfg.VoiceChannelID, true, false)
		if err != nil {
			logging.Warnw("voice join failed", "error", err)
			vc = nil
		} else {
			tracker.SetConnected(cfg.VoiceChannelID)
			vc.AddHandler(tracker.HandleSpeakingUpdate)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if vc != nil {
		g.Go(func() error { return ignoreCanceled(tracker.Receive(gctx, vc)) })
	}
	if cfg.RosterURL != "" {
		feed := roster.New(roster.Config{URL: cfg.RosterURL, AuthToken: cfg.CapabilityToken})
		loop.feed = feed
		g.Go(func() error { return ignoreCanceled(feed.Run(gctx)) })
	}
	if cfg.MCPListenAddr != "" {
		srv := mcp.NewServer(mcp.ServerConfig{
			Name:          "active-speakers",
			Version:       version,
			Panels:        snapshots,
			DefaultSource: cfg.PanelSource,
			Moderation:    mcpMod,
		})
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.MCPListenAddr) })
	}
	g.Go(func() error { return loop.run(gctx) })

	logging.Infow("tracker running", "self_id", selfID, "guild", cfg.GuildID)
	<-gctx.Done()
	logging.Infow("shutting down")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			logging.Errorw("tracker stopped with error", "error", err)
		}
	case <-time.After(shutdownTimeout):
		logging.Warnw("shutdown timed out", "timeout", shutdownTimeout)
	}

	for _, p := range loop.panels {
		p.Close()
	}
	if modClient != nil {
		modClient.Wait()
	}
	if vc != nil {
		if err := vc.Disconnect(); err != nil {
			logging.Warnw("voice disconnect error", "error", err)
		}
	}
	if err := dg.Close(); err != nil {
		logging.Warnw("discord session close error", "error", err)
	}
	logging.Infow("shutdown complete")
}

// channelSurface posts session errors to a text channel, or returns nil
// when no channel is configured.
func channelSurface(dg *discordgo.Session, channelID string) moderation.ErrorSurface {
	if channelID == "" {
		return nil
	}
	return moderation.SurfaceFunc(func(text string) {
		if _, err := dg.ChannelMessageSend(channelID, text); err != nil {
			logging.Warnw("post session error failed", "channel_id", channelID, "error", err)
		}
	})
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
