//go:build opus
// +build opus

package voice

import (
	"sync"

	"github.com/hraban/opus"

	"github.com/discord-voice-lab/active-speakers/internal/logging"
)

const (
	sampleRate = 48000
	channels   = 2
	// largest opus frame, 120ms
	maxFrameSamples = sampleRate / 1000 * 120
)

type opusMeter struct {
	mu   sync.Mutex
	decs map[uint32]*opus.Decoder
	pcm  []int16
}

// NewPowerMeter decodes frames with libopus, one decoder per SSRC.
func NewPowerMeter() PowerMeter {
	return &opusMeter{decs: make(map[uint32]*opus.Decoder), pcm: make([]int16, maxFrameSamples*channels)}
}

func (m *opusMeter) Level(ssrc uint32, frame []byte) float32 {
	if isSilence(frame) {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	dec, ok := m.decs[ssrc]
	if !ok {
		var err error
		dec, err = opus.NewDecoder(sampleRate, channels)
		if err != nil {
			logging.Errorw("opus decoder init failed", "ssrc", ssrc, "err", err)
			return 0
		}
		m.decs[ssrc] = dec
	}
	n, err := dec.Decode(frame, m.pcm)
	if err != nil {
		logging.Debugw("opus decode error", "ssrc", ssrc, "err", err)
		return 0
	}
	return pcmLevel(m.pcm[:n*channels])
}
