package voice

import "math"

// PowerMeter turns received opus frames into a power level in [0,1].
type PowerMeter interface {
	Level(ssrc uint32, frame []byte) float32
}

// floorDB is the level that maps to zero power.
const floorDB = -60.0

// silenceFrame is the comfort-noise frame Discord sends when a user stops
// transmitting.
var silenceFrame = []byte{0xF8, 0xFF, 0xFE}

func isSilence(frame []byte) bool {
	if len(frame) == 0 {
		return true
	}
	if len(frame) != len(silenceFrame) {
		return false
	}
	for i := range frame {
		if frame[i] != silenceFrame[i] {
			return false
		}
	}
	return true
}

// pcmLevel maps the RMS of pcm onto [0,1] linearly in dBFS between floorDB
// and full scale.
func pcmLevel(pcm []int16) float32 {
	if len(pcm) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range pcm {
		v := float64(s)
		sumSq += v * v
	}
	rms := math.Sqrt(sumSq / float64(len(pcm)))
	if rms < 1 {
		return 0
	}
	db := 20 * math.Log10(rms/32768)
	level := (db - floorDB) / -floorDB
	if level < 0 {
		return 0
	}
	if level > 1 {
		return 1
	}
	return float32(level)
}
