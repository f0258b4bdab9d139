package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/discord-voice-lab/active-speakers/internal/mcp"
	"github.com/discord-voice-lab/active-speakers/internal/panel"
)

func main() {
	addr := flag.String("addr", "ws://localhost:9001"+mcp.WebSocketPath, "MCP websocket URL of a running tracker")
	source := flag.String("source", "", "panel source (proximity, active_channel, session_roster)")
	includeText := flag.Bool("text", false, "include text-only and departed speakers")
	asJSON := flag.Bool("json", false, "print the raw snapshot as JSON")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	mute := flag.String("mute", "", "moderator-mute a speaker id instead of listing")
	voice := flag.String("voice", "", "with -mute: true or false for voice")
	text := flag.String("text-mute", "", "with -mute: true or false for text")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	w := mcp.NewClientWrapper("speakersctl", "v0.1.0")
	if err := w.ConnectWebSocket(ctx, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "connect %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer w.Close()

	if *mute != "" {
		v, err := optionalBool(*voice)
		if err == nil {
			var t *bool
			t, err = optionalBool(*text)
			if err == nil {
				err = w.ModerateSpeaker(ctx, *source, *mute, v, t)
			}
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	snap, err := w.ListSpeakers(ctx, *source, *includeText)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
		return
	}
	printSnapshot(os.Stdout, snap)
}

func optionalBool(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, fmt.Errorf("invalid flag value %q: %w", s, err)
	}
	return &b, nil
}

func printSnapshot(out io.Writer, snap panel.Snapshot) {
	fmt.Fprintf(out, "%s", snap.Source)
	if snap.SessionID != "" {
		fmt.Fprintf(out, " (session %s)", snap.SessionID)
	}
	fmt.Fprintf(out, ": %d speakers, moderation %s\n", len(snap.Rows), snap.Controls.ModerationMode)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tICON")
	for _, r := range snap.Rows {
		name := r.Name
		if r.Typing {
			name += " ..."
		}
		marker := ""
		if r.ID == snap.Selected {
			marker = " *"
		}
		fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\n", r.ID, marker, name, r.Status, r.Icon)
	}
	_ = tw.Flush()
}
