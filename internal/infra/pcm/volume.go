package pcm

import "math"

// ApplyVolume scales samples in place. volume is a percentage: 100 leaves
// the audio untouched, 150 amplifies by half. Results are clipped to int16.
func ApplyVolume(samples []int16, volume int) {
	if volume == 100 {
		return
	}
	if volume <= 0 {
		clear(samples)
		return
	}

	gain := float64(volume) / 100
	for i, s := range samples {
		v := math.Round(float64(s) * gain)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		samples[i] = int16(v)
	}
}
