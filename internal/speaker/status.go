package speaker

import "fmt"

// Status is the engagement tier of a speaker. Lower values sort first and
// win when two sources disagree.
type Status int

const (
	StatusMuted Status = iota
	StatusSpeaking
	StatusHasSpoken
	StatusVoiceActive
	StatusTextOnly
	StatusNotInChannel
)

func (s Status) String() string {
	switch s {
	case StatusMuted:
		return "muted"
	case StatusSpeaking:
		return "speaking"
	case StatusHasSpoken:
		return "has_spoken"
	case StatusVoiceActive:
		return "voice_active"
	case StatusTextOnly:
		return "text_only"
	case StatusNotInChannel:
		return "not_in_channel"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Kind tells people apart from objects relaying chat on someone's behalf.
type Kind int

const (
	KindPerson Kind = iota
	KindObject
)

func (k Kind) String() string {
	if k == KindObject {
		return "object"
	}
	return "person"
}

// Color is an RGBA color with components in [0,1].
type Color struct {
	R, G, B, A float32
}

var (
	InactiveColor    = Color{0.3, 0.3, 0.3, 0.5}
	ActiveColor      = Color{0.5, 0.5, 0.5, 1}
	DefaultSpeaking  = Color{0, 1, 0, 1}
	DefaultOverdrive = Color{1, 0, 0, 1}
	Transparent      = Color{}
)

// Lerp interpolates between c and to by t in [0,1].
func (c Color) Lerp(to Color, t float32) Color {
	return Color{
		R: c.R + (to.R-c.R)*t,
		G: c.G + (to.G-c.G)*t,
		B: c.B + (to.B-c.B)*t,
		A: c.A + (to.A-c.A)*t,
	}
}

// clampRescale clamps x to [inLo,inHi] and maps it linearly onto [outLo,outHi].
func clampRescale(x, inLo, inHi, outLo, outHi float32) float32 {
	if x <= inLo {
		return outLo
	}
	if x >= inHi {
		return outHi
	}
	return outLo + (x-inLo)/(inHi-inLo)*(outHi-outLo)
}
