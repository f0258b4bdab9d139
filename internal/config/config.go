package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/imdario/mergo"
)

// Panel sources.
const (
	SourceProximity = "proximity"
	SourceActive    = "active_channel"
	SourceSession   = "session_roster"
)

// Config is the runtime configuration of the tracker.
type Config struct {
	DiscordToken     string `json:"discord_bot_token,omitempty"`
	GuildID          string `json:"guild_id,omitempty"`
	VoiceChannelID   string `json:"voice_channel_id,omitempty"`
	AmbientChannelID string `json:"ambient_channel_id,omitempty"`
	TextChannelID    string `json:"text_channel_id,omitempty"`
	SelfUserID       string `json:"self_user_id,omitempty"`

	// ChatRadiusS is how long a text chatter stays nearby, in seconds.
	ChatRadiusS float64 `json:"chat_radius_s,omitempty"`
	// FrameMS is the refresh interval of the frame loop.
	FrameMS          int   `json:"frame_ms,omitempty"`
	ShowTextChatters *bool `json:"show_text_chatters,omitempty"`
	// ResolveNames disables REST name lookups when false.
	ResolveNames *bool `json:"resolve_names,omitempty"`
	// PanelSource selects the registry the default panel shows.
	PanelSource string `json:"panel_source,omitempty"`

	CapabilityURL   string `json:"capability_url,omitempty"`
	CapabilityToken string `json:"capability_token,omitempty"`
	RosterURL       string `json:"roster_url,omitempty"`
	SessionID       string `json:"session_id,omitempty"`

	MuteListPath  string `json:"mute_list_path,omitempty"`
	MCPListenAddr string `json:"mcp_listen_addr,omitempty"`
}

// Result is a loaded configuration and the files it came from.
type Result struct {
	Config  Config
	Sources []string
}

// Defaults fill every field left empty by the file and the environment.
func Defaults() Config {
	show, resolve := true, true
	return Config{
		ChatRadiusS:      30,
		FrameMS:          100,
		ShowTextChatters: &show,
		ResolveNames:     &resolve,
		PanelSource:      SourceProximity,
		MuteListPath:     defaultMuteListPath(),
		MCPListenAddr:    ":9001",
	}
}

// ChatRadius returns ChatRadiusS as a duration.
func (c Config) ChatRadius() time.Duration {
	return time.Duration(c.ChatRadiusS * float64(time.Second))
}

// FrameInterval returns FrameMS as a duration.
func (c Config) FrameInterval() time.Duration {
	return time.Duration(c.FrameMS) * time.Millisecond
}

// TextChatters reports whether text-only speakers are listed.
func (c Config) TextChatters() bool {
	return c.ShowTextChatters == nil || *c.ShowTextChatters
}

// NameLookups reports whether display names are fetched from Discord.
func (c Config) NameLookups() bool {
	return c.ResolveNames == nil || *c.ResolveNames
}

// Validate reports the first missing or malformed setting.
func (c Config) Validate() error {
	var errs []error
	if c.DiscordToken == "" {
		errs = append(errs, errors.New("DISCORD_BOT_TOKEN is required"))
	}
	if c.GuildID == "" {
		errs = append(errs, errors.New("GUILD_ID is required"))
	}
	if c.ChatRadiusS < 0 {
		errs = append(errs, fmt.Errorf("chat radius must not be negative, got %v", c.ChatRadiusS))
	}
	if c.FrameMS <= 0 {
		errs = append(errs, fmt.Errorf("frame interval must be positive, got %dms", c.FrameMS))
	}
	switch c.PanelSource {
	case SourceProximity, SourceActive, SourceSession:
	default:
		errs = append(errs, fmt.Errorf("unknown panel source %q", c.PanelSource))
	}
	if c.RosterURL != "" && c.SessionID == "" {
		errs = append(errs, errors.New("SESSION_ID is required with ROSTER_URL"))
	}
	return errors.Join(errs...)
}

// Load reads the config file (SPEAKERS_CONFIG_PATH, else the user config
// dir), overlays the environment and fills defaults. A missing file is not
// an error.
func Load() (Result, error) {
	var res Result
	path, explicit, err := configPath()
	if err != nil {
		return res, err
	}
	fileCfg, err := readFile(path)
	switch {
	case err == nil:
		res.Sources = append(res.Sources, path)
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return res, err
	}

	envCfg, err := FromEnv(os.LookupEnv)
	if err != nil {
		return res, err
	}
	cfg, err := merge(fileCfg, envCfg)
	if err != nil {
		return res, err
	}
	res.Config = cfg
	return res, nil
}

// merge starts from Defaults and overlays file, then env. A set pointer
// replaces the one below it, so an explicit false survives every layer.
func merge(file, env Config) (Config, error) {
	cfg := Defaults()
	if err := mergo.Merge(&cfg, file, mergo.WithOverride, mergo.WithTransformers(ptrTransformers{})); err != nil {
		return Config{}, fmt.Errorf("apply config file: %w", err)
	}
	if err := mergo.Merge(&cfg, env, mergo.WithOverride, mergo.WithTransformers(ptrTransformers{})); err != nil {
		return Config{}, fmt.Errorf("apply environment: %w", err)
	}
	if cfg.MuteListPath != "" {
		if expanded, err := expandPath(cfg.MuteListPath); err == nil {
			cfg.MuteListPath = expanded
		}
	}
	return cfg, nil
}

// ptrTransformers lets a set pointer override. mergo only consults it while
// dst points at a non-zero value; a dst pointing at false falls through to
// an element merge, which lands on the same result.
type ptrTransformers struct{}

func (ptrTransformers) Transformer(tp reflect.Type) func(dst, src reflect.Value) error {
	if tp.Kind() != reflect.Ptr {
		return nil
	}
	return func(dst, src reflect.Value) error {
		if !src.IsNil() && dst.CanSet() {
			dst.Set(src)
		}
		return nil
	}
}

// FromEnv builds the environment overlay. lookup is os.LookupEnv outside
// tests.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	var c Config
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("DISCORD_BOT_TOKEN", &c.DiscordToken)
	str("GUILD_ID", &c.GuildID)
	str("VOICE_CHANNEL_ID", &c.VoiceChannelID)
	str("AMBIENT_CHANNEL_ID", &c.AmbientChannelID)
	str("TEXT_CHANNEL_ID", &c.TextChannelID)
	str("SELF_USER_ID", &c.SelfUserID)
	str("PANEL_SOURCE", &c.PanelSource)
	str("CAPABILITY_URL", &c.CapabilityURL)
	str("CAPABILITY_TOKEN", &c.CapabilityToken)
	str("ROSTER_URL", &c.RosterURL)
	str("SESSION_ID", &c.SessionID)
	str("MUTE_LIST_PATH", &c.MuteListPath)
	str("MCP_LISTEN_ADDR", &c.MCPListenAddr)

	if v, ok := lookup("CHAT_RADIUS_S"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("CHAT_RADIUS_S: %w", err)
		}
		c.ChatRadiusS = f
	}
	if v, ok := lookup("FRAME_MS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("FRAME_MS: %w", err)
		}
		c.FrameMS = n
	}
	for key, dst := range map[string]**bool{
		"SHOW_TEXT_CHATTERS": &c.ShowTextChatters,
		"RESOLVE_NAMES":      &c.ResolveNames,
	} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", key, err)
		}
		*dst = &b
	}
	return c, nil
}

func readFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

func configPath() (path string, explicit bool, err error) {
	if p := os.Getenv("SPEAKERS_CONFIG_PATH"); p != "" {
		path, err := expandPath(p)
		return path, true, err
	}
	base, err := userConfigDir()
	if err != nil {
		return "", false, err
	}
	return filepath.Join(base, "active-speakers", "config.json"), false, nil
}

func defaultMuteListPath() string {
	base, err := userConfigDir()
	if err != nil {
		return "mutes.json"
	}
	return filepath.Join(base, "active-speakers", "mutes.json")
}

func userConfigDir() (string, error) {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return base, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config"), nil
}

func expandPath(value string) (string, error) {
	if value == "~" || strings.HasPrefix(value, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return value, err
		}
		return filepath.Join(home, strings.TrimPrefix(value, "~")), nil
	}
	return value, nil
}
