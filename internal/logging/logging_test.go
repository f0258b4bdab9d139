package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zap.DebugLevel,
		" WARN ":  zap.WarnLevel,
		"warning": zap.WarnLevel,
		"error":   zap.ErrorLevel,
		"":        zap.InfoLevel,
		"chatty":  zap.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetLoggerAndContextFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core).Sugar())
	defer SetLogger(nil)

	ctx := WithFields(context.Background(), SessionFields("s1")...)
	ctx = WithFields(ctx, "request_id", "r1")
	WarnwCtx(ctx, "request failed", "status", 500)
	InfowCtx(context.Background(), "plain")
	Debugw("speaker added", SpeakerFields("u1", "")...)

	entries := logs.AllUntimed()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	got := entries[0].ContextMap()
	if got["session.id"] != "s1" || got["request_id"] != "r1" || got["status"] != int64(500) {
		t.Fatalf("unexpected fields: %v", got)
	}
	if entries[0].Level != zap.WarnLevel {
		t.Fatalf("level = %v", entries[0].Level)
	}
	if len(entries[1].Context) != 0 {
		t.Fatalf("plain entry has fields: %v", entries[1].Context)
	}
	if _, ok := entries[2].ContextMap()["speaker.name"]; ok {
		t.Fatal("empty display name should be omitted")
	}
	if GetLogger() == nil {
		t.Fatal("GetLogger returned nil")
	}
}

func TestFieldHelpers(t *testing.T) {
	if f := ChannelFields("c1", "general"); len(f) != 4 || f[3] != "general" {
		t.Fatalf("ChannelFields = %v", f)
	}
	if f := ChannelFields("c1", ""); len(f) != 2 {
		t.Fatalf("ChannelFields without name = %v", f)
	}
	if f := SpeakerFields("u1", "Ann"); len(f) != 4 || f[1] != "u1" {
		t.Fatalf("SpeakerFields = %v", f)
	}
	if FromContext(context.Background()) != nil {
		t.Fatal("empty context should carry no fields")
	}
	ctx := context.Background()
	if WithFields(ctx) != ctx {
		t.Fatal("WithFields without fields should return ctx")
	}
}
