package panel

import (
	"fmt"
	"math"
	"sort"

	"github.com/discord-voice-lab/active-speakers/internal/speaker"
)

// Sort columns.
const (
	ColumnIcon   = "icon_speaking_status"
	ColumnName   = "speaker_name"
	ColumnStatus = "speaking_status"
)

// Icons.
const (
	IconMute     = "mute"
	IconDotLevel = "dot-lvl%d"
)

// DefaultName is shown until a speaker's name resolves.
const DefaultName = "(waiting)"

const moderatorLabel = "(moderator)"

var (
	moderatorMutedColor = speaker.Color{R: 0.5, G: 0.5, B: 0.5, A: 1}
	selfMutedColor      = speaker.Color{R: 1, G: 71.0 / 255, B: 71.0 / 255, A: 1}
	inactiveNameColor   = speaker.Color{R: 0.3, G: 0.3, B: 0.3, A: 1}
)

// Row is one displayed line of the speaker list.
type Row struct {
	ID        string         `json:"id"`
	Icon      string         `json:"icon"`
	IconColor speaker.Color  `json:"icon_color"`
	Name      string         `json:"name"`
	Bold      bool           `json:"bold,omitempty"`
	NameColor *speaker.Color `json:"name_color,omitempty"`
	// SortKey encodes the registry order as text so it sorts like a number.
	SortKey string `json:"sort_key"`
	Typing  bool   `json:"typing,omitempty"`
	Status  string `json:"status"`
}

// BuildRow renders s.
func BuildRow(s *speaker.Speaker) Row {
	row := Row{
		ID:      s.ID,
		SortKey: fmt.Sprintf("%010d", s.SortIndex),
		Typing:  s.Typing,
		Status:  s.Status.String(),
	}

	if s.Status == speaker.StatusMuted {
		row.Icon = IconMute
		if s.ModeratorMutedVoice {
			row.IconColor = moderatorMutedColor
		} else {
			row.IconColor = selfMutedColor
		}
	} else {
		row.Icon = fmt.Sprintf(IconDotLevel, volumeTier(s.SpeechVolume))
		row.IconColor = s.DotColor
		if s.Status > speaker.StatusVoiceActive {
			// no voice, no dot
			row.IconColor = speaker.Transparent
		}
	}

	if s.Status == speaker.StatusNotInChannel {
		c := inactiveNameColor
		row.NameColor = &c
	}

	row.Name = s.DisplayName
	if row.Name == "" {
		row.Name = DefaultName
	}
	if s.IsModerator {
		row.Name += " " + moderatorLabel
		row.Bold = true
	}
	return row
}

// volumeTier buckets a power level into the three dot icons.
func volumeTier(volume float32) int {
	tier := int(math.Floor(float64(volume / speaker.OverdrivenPowerLevel * 3)))
	if tier < 0 {
		return 0
	}
	if tier > 2 {
		return 2
	}
	return tier
}

func sortRows(rows []Row, column string, ascending bool) {
	key := func(r Row) string {
		switch column {
		case ColumnName:
			return r.Name
		case ColumnIcon:
			return r.Icon
		default:
			return r.SortKey
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ki, kj := key(rows[i]), key(rows[j])
		if ascending {
			return ki < kj
		}
		return ki > kj
	})
}
