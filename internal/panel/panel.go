// Package panel binds a speaker registry to a list view with per-speaker
// mute, volume and moderation controls.
package panel

import (
	"fmt"
	"sync"

	"github.com/discord-voice-lab/active-speakers/internal/logging"
	"github.com/discord-voice-lab/active-speakers/internal/mutelist"
	"github.com/discord-voice-lab/active-speakers/internal/speaker"
)

// MuteList is the local mute list and volume store.
type MuteList interface {
	IsMuted(id string, flags mutelist.Flags) bool
	Add(e mutelist.Entry) error
	Remove(id string, flags mutelist.Flags) error
	SetSavedVolume(id string, volume float32) error
}

// Moderator sends moderation requests for a session. Calls return at once;
// failures are reported to the session elsewhere.
type Moderator interface {
	DispatchMuteVoice(sessionID, agentID string, muted bool)
	DispatchMuteText(sessionID, agentID string, muted bool)
	DispatchModeratedVoice(sessionID string, moderated bool)
}

// Moderation modes.
const (
	ModeModerated   = "moderated"
	ModeUnmoderated = "unmoderated"
)

// Toggle is a checkbox-like control.
type Toggle struct {
	Value   bool `json:"value"`
	Enabled bool `json:"enabled"`
}

// Controls is the state of everything below the list.
type Controls struct {
	MuteVoice Toggle `json:"mute_voice"`
	MuteText  Toggle `json:"mute_text"`

	Volume        float32 `json:"volume"`
	VolumeEnabled bool    `json:"volume_enabled"`

	ProfileEnabled bool   `json:"profile_enabled"`
	SelectedName   string `json:"selected_name"`

	ModeratorLabelEnabled bool   `json:"moderator_label_enabled"`
	AllowVoice            Toggle `json:"allow_voice"`
	AllowText             Toggle `json:"allow_text"`

	ModeratorControlsVisible bool   `json:"moderator_controls_visible"`
	ModerationModeVisible    bool   `json:"moderation_mode_visible"`
	ModerationMode           string `json:"moderation_mode"`
}

// Snapshot is a published view of the panel, safe to read from any goroutine.
type Snapshot struct {
	Source     string   `json:"source"`
	SessionID  string   `json:"session_id,omitempty"`
	Rows       []Row    `json:"rows"`
	Selected   string   `json:"selected,omitempty"`
	Scroll     int      `json:"scroll"`
	SortColumn string   `json:"sort_column"`
	Ascending  bool     `json:"ascending"`
	Controls   Controls `json:"controls"`
}

// Options configure a Panel. Registry is required.
type Options struct {
	Name     string
	Registry *speaker.Registry
	Voice    speaker.VoiceClient
	MuteList MuteList
	// Moderator may be nil when the channel has no moderation endpoint.
	Moderator Moderator
	// SelfID is the local user, who cannot mute or message themselves.
	SelfID           string
	ShowTextChatters bool

	OpenProfile func(id string)
	OpenIM      func(id, name string)
}

// Panel renders a registry. Everything except Snapshot must run on the
// goroutine that owns the registry.
type Panel struct {
	opts Options
	reg  *speaker.Registry

	rows       []Row
	selected   string
	scroll     int
	sortColumn string
	ascending  bool
	controls   Controls

	sub        speaker.Subscription
	subscribed bool

	mu       sync.RWMutex
	snapshot Snapshot
}

func New(opts Options) *Panel {
	if opts.Name == "" {
		opts.Name = opts.Registry.Variant().String()
	}
	return &Panel{
		opts:       opts,
		reg:        opts.Registry,
		sortColumn: ColumnStatus,
		ascending:  true,
		controls:   Controls{ModerationMode: ModeUnmoderated, AllowVoice: Toggle{Value: true}, AllowText: Toggle{Value: true}},
	}
}

// Refresh runs one registry update and rebuilds the rows, keeping selection
// and scroll position.
func (p *Panel) Refresh() {
	selected := p.selected
	scroll := p.scroll

	p.reg.Update()

	list := p.reg.List(p.opts.ShowTextChatters)
	p.rows = p.rows[:0]
	for _, s := range list {
		p.rows = append(p.rows, BuildRow(s))
	}
	sortRows(p.rows, p.sortColumn, p.ascending)

	switch {
	case selected == "" || p.rowIndex(selected) < 0:
		// nothing (or something now gone) was selected: take the first row
		p.selected = ""
		if len(p.rows) > 0 {
			p.selected = p.rows[0].ID
		}
		p.handleSelect()
	case p.recreated(selected):
		// same id, new record: the old listener went with the old record
		p.selected = selected
		p.handleSelect()
	default:
		// keep the selection but leave the moderator toggles alone until
		// the remote side confirms a change
		p.selected = selected
	}

	p.updateControls()
	p.scroll = clampScroll(scroll, len(p.rows))
	p.publish()
}

// Select makes id the current selection and resynchronizes the moderator
// toggles from its record.
func (p *Panel) Select(id string) {
	p.selected = id
	p.handleSelect()
	p.updateControls()
	p.publish()
}

// SortBy changes the sort column. Unknown columns sort by status.
func (p *Panel) SortBy(column string, ascending bool) {
	switch column {
	case ColumnIcon, ColumnName, ColumnStatus:
	default:
		column = ColumnStatus
	}
	p.sortColumn = column
	p.ascending = ascending
	sortRows(p.rows, p.sortColumn, p.ascending)
	p.publish()
}

// ScrollTo records the list's scroll offset.
func (p *Panel) ScrollTo(pos int) {
	p.scroll = clampScroll(pos, len(p.rows))
}

func (p *Panel) Selected() string   { return p.selected }
func (p *Panel) Rows() []Row        { return append([]Row(nil), p.rows...) }
func (p *Panel) Controls() Controls { return p.controls }

// Close drops the subscription on the selected record.
func (p *Panel) Close() {
	p.unsubscribe()
}

func (p *Panel) handleSelect() {
	s := p.reg.Find(p.selected)
	if s == nil {
		return
	}
	p.controls.AllowVoice.Value = !s.ModeratorMutedVoice
	p.controls.AllowText.Value = !s.ModeratorMutedText

	p.unsubscribe()
	id := s.ID
	sub, ok := p.reg.Subscribe(id, func(ev speaker.Event) { p.onModerationEvent(id, ev) })
	if ok {
		p.sub, p.subscribed = sub, true
	}
}

// recreated reports whether the record behind id is not the one the panel
// subscribed to.
func (p *Panel) recreated(id string) bool {
	s := p.reg.Find(id)
	if s == nil {
		return false
	}
	return !p.subscribed || p.sub.Handle() != s.Handle()
}

func (p *Panel) unsubscribe() {
	if p.subscribed {
		p.reg.Unsubscribe(p.sub)
		p.subscribed = false
	}
}

// onModerationEvent applies a confirmed moderator mute to the toggles.
func (p *Panel) onModerationEvent(id string, ev speaker.Event) {
	if id != p.selected {
		return
	}
	switch ev.Kind {
	case speaker.VoiceMuteChanged:
		p.controls.AllowVoice.Value = !ev.Value
	case speaker.TextMuteChanged:
		p.controls.AllowText.Value = !ev.Value
	}
}

func (p *Panel) updateControls() {
	id := p.selected
	s := p.reg.Find(id)
	c := &p.controls

	voiceOK := p.opts.Voice != nil && p.opts.Voice.VoiceAvailable() && id != "" && p.opts.Voice.VoiceEnabled(id)
	notSelf := id != "" && id != p.opts.SelfID

	c.MuteVoice.Value = p.isMuted(id, mutelist.FlagVoice)
	c.MuteVoice.Enabled = voiceOK && notSelf && s != nil && s.Kind == speaker.KindPerson
	c.MuteText.Value = p.isMuted(id, mutelist.FlagText)
	c.MuteText.Enabled = notSelf && s != nil && !mutelist.IsLinden(s.DisplayName)

	c.Volume = 0
	if p.opts.Voice != nil && id != "" {
		c.Volume = p.opts.Voice.UserVolume(id)
	}
	c.VolumeEnabled = c.MuteVoice.Enabled

	c.ModeratorLabelEnabled = id != ""
	c.AllowVoice.Enabled = id != "" && p.reg.IsVoiceActive() && p.opts.Voice != nil && p.opts.Voice.VoiceEnabled(id)
	c.AllowText.Enabled = id != ""
	c.ProfileEnabled = id != ""

	c.SelectedName = ""
	if s != nil {
		c.SelectedName = s.DisplayName
	}

	if self := p.reg.Find(p.opts.SelfID); self != nil {
		c.ModerationModeVisible = self.IsModerator && p.reg.IsVoiceActive()
		c.ModeratorControlsVisible = self.IsModerator
	}
}

func (p *Panel) isMuted(id string, flags mutelist.Flags) bool {
	return id != "" && p.opts.MuteList != nil && p.opts.MuteList.IsMuted(id, flags)
}

// ToggleMuteVoice flips the selected speaker's voice entry on the mute list.
func (p *Panel) ToggleMuteVoice() error {
	s := p.reg.Find(p.selected)
	if s == nil || p.opts.MuteList == nil {
		return nil
	}
	if p.opts.MuteList.IsMuted(s.ID, mutelist.FlagVoice) {
		return p.opts.MuteList.Remove(s.ID, mutelist.FlagVoice)
	}
	// only people have voices
	return p.opts.MuteList.Add(mutelist.Entry{ID: s.ID, Name: s.DisplayName, Kind: mutelist.KindAgent, Flags: mutelist.FlagVoice})
}

// ToggleMuteText flips the selected speaker's text entry on the mute list.
func (p *Panel) ToggleMuteText() error {
	s := p.reg.Find(p.selected)
	if s == nil || p.opts.MuteList == nil {
		return nil
	}
	if p.opts.MuteList.IsMuted(s.ID, mutelist.FlagText) {
		return p.opts.MuteList.Remove(s.ID, mutelist.FlagText)
	}
	kind := mutelist.KindAgent
	if s.Kind == speaker.KindObject {
		kind = mutelist.KindObject
	}
	return p.opts.MuteList.Add(mutelist.Entry{ID: s.ID, Name: s.DisplayName, Kind: kind, Flags: mutelist.FlagText})
}

// SetVolume applies and persists a gain for the selected speaker.
func (p *Panel) SetVolume(volume float32) error {
	id := p.selected
	if id == "" {
		return nil
	}
	if p.opts.Voice != nil {
		p.opts.Voice.SetUserVolume(id, volume)
	}
	p.controls.Volume = volume
	if p.opts.MuteList == nil {
		return nil
	}
	return p.opts.MuteList.SetSavedVolume(id, volume)
}

// OpenProfile shows the selected speaker's profile.
func (p *Panel) OpenProfile() {
	if p.selected != "" && p.opts.OpenProfile != nil {
		p.opts.OpenProfile(p.selected)
	}
}

// OpenIM starts a direct conversation with the selected speaker.
func (p *Panel) OpenIM() {
	s := p.reg.Find(p.selected)
	if s == nil || s.ID == p.opts.SelfID || p.opts.OpenIM == nil {
		return
	}
	p.opts.OpenIM(s.ID, s.DisplayName)
}

// SetAllowVoice requests a moderator voice mute change for the selection.
// The toggle flips at once; a moderation event confirms or reverts it.
func (p *Panel) SetAllowVoice(allow bool) {
	if p.selected == "" || p.opts.Moderator == nil {
		return
	}
	p.controls.AllowVoice.Value = allow
	p.opts.Moderator.DispatchMuteVoice(p.reg.SessionID(), p.selected, !allow)
}

// SetAllowText requests a moderator text mute change for the selection.
func (p *Panel) SetAllowText(allow bool) {
	if p.selected == "" || p.opts.Moderator == nil {
		return
	}
	p.controls.AllowText.Value = allow
	p.opts.Moderator.DispatchMuteText(p.reg.SessionID(), p.selected, !allow)
}

// ChangeModerationMode requests moderated or unmoderated voice.
func (p *Panel) ChangeModerationMode(mode string) error {
	var moderated bool
	switch mode {
	case ModeModerated:
		moderated = true
	case ModeUnmoderated:
	default:
		return fmt.Errorf("unknown moderation mode %q", mode)
	}
	if p.opts.Moderator == nil {
		return nil
	}
	p.controls.ModerationMode = mode
	p.opts.Moderator.DispatchModeratedVoice(p.reg.SessionID(), moderated)
	logging.Infow("moderation mode requested", append(logging.SessionFields(p.reg.SessionID()), "mode", mode)...)
	return nil
}

// SetVoiceModerationMode reflects the session's moderation mode as reported
// by the remote side.
func (p *Panel) SetVoiceModerationMode(moderated bool) {
	if moderated {
		p.controls.ModerationMode = ModeModerated
	} else {
		p.controls.ModerationMode = ModeUnmoderated
	}
}

func (p *Panel) rowIndex(id string) int {
	for i, r := range p.rows {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (p *Panel) publish() {
	snap := Snapshot{
		Source:     p.opts.Name,
		SessionID:  p.reg.SessionID(),
		Rows:       append([]Row(nil), p.rows...),
		Selected:   p.selected,
		Scroll:     p.scroll,
		SortColumn: p.sortColumn,
		Ascending:  p.ascending,
		Controls:   p.controls,
	}
	p.mu.Lock()
	p.snapshot = snap
	p.mu.Unlock()
}

// Snapshot returns the last published view.
func (p *Panel) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

func clampScroll(pos, rows int) int {
	if pos < 0 || rows == 0 {
		return 0
	}
	if pos >= rows {
		return rows - 1
	}
	return pos
}
