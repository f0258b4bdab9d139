//go:build !opus
// +build !opus

package voice

// NominalLevel is reported for every audible frame when libopus is not
// compiled in.
const NominalLevel float32 = 0.35

type nominalMeter struct{}

// NewPowerMeter returns a meter that cannot decode and reports NominalLevel
// for anything but silence. Build with -tags opus for real levels.
func NewPowerMeter() PowerMeter { return nominalMeter{} }

func (nominalMeter) Level(_ uint32, frame []byte) float32 {
	if isSilence(frame) {
		return 0
	}
	return NominalLevel
}
