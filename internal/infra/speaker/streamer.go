// Package speaker plays sessions on the local audio device.
package speaker

import (
	"io"
	"math"

	"github.com/cockroachdb/errors"

	"github.com/CarlosFdez/SpueBox/internal/infra/pcm"
)

// frameReader is implemented by *pcm.Stream.
type frameReader interface {
	ReadFrame(frame []int16) error
}

// pcmStreamer adapts decoded PCM frames to float stereo samples.
type pcmStreamer struct {
	src   frameReader
	frame []int16
	pos   int // next unread sample pair in frame
	pairs int // sample pairs held in frame
	err   error
	done  bool
}

func newPCMStreamer(src frameReader) *pcmStreamer {
	return &pcmStreamer{src: src, frame: make([]int16, pcm.FrameSize)}
}

// Stream fills samples and reports false once the source is drained.
func (s *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	n := 0
	for n < len(samples) {
		if s.pos == s.pairs {
			if s.done {
				break
			}
			if err := s.src.ReadFrame(s.frame); err != nil {
				s.done = true
				if !errors.Is(err, io.EOF) {
					s.err = err
				}
				break
			}
			s.pos, s.pairs = 0, len(s.frame)/pcm.Channels
		}
		samples[n][0] = float64(s.frame[s.pos*2]) / -math.MinInt16
		samples[n][1] = float64(s.frame[s.pos*2+1]) / -math.MinInt16
		s.pos++
		n++
	}
	return n, n > 0
}

// Err returns the decode error, if any.
func (s *pcmStreamer) Err() error {
	return s.err
}

// gain converts a volume percentage to the exponent of a base-2
// effects.Volume. Zero means silent.
func gain(volume int) (exp float64, silent bool) {
	if volume <= 0 {
		return 0, true
	}
	return math.Log2(float64(volume) / 100), false
}
