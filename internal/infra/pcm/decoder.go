// Package pcm decodes playable sources into 16-bit little-endian stereo PCM
// at 48 kHz using an ffmpeg subprocess.
package pcm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

const (
	SampleRate   = 48000
	Channels     = 2
	FrameSamples = 960 // 20ms per channel
	FrameSize    = FrameSamples * Channels
	FrameBytes   = FrameSize * 2
)

// Decoder starts ffmpeg processes.
type Decoder struct {
	Binary string // ffmpeg executable; "ffmpeg" when empty
}

// Stream is one running decode. Frames are read with ReadFrame.
type Stream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	raw    []byte

	stderrMu sync.Mutex
	stderr   bytes.Buffer

	closeOnce sync.Once
	closeErr  error
}

// Args returns the ffmpeg arguments used to decode source.
func Args(source string) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if strings.HasPrefix(source, "http") {
		// Resume dropped network streams instead of ending the song early
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}
	return append(args,
		"-i", source,
		"-vn",
		"-f", "s16le",
		"-ar", "48000",
		"-ac", "2",
		"pipe:1",
	)
}

// Open starts decoding source. The process is killed when ctx ends or the
// stream is closed.
func (d *Decoder) Open(ctx context.Context, source string) (*Stream, error) {
	bin := d.Binary
	if bin == "" {
		bin = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, bin, Args(source)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open ffmpeg stdout")
	}
	s := &Stream{
		cmd:    cmd,
		stdout: stdout,
		reader: bufio.NewReaderSize(stdout, FrameBytes*8),
		raw:    make([]byte, FrameBytes),
	}
	cmd.Stderr = &lockedWriter{mu: &s.stderrMu, w: &s.stderr}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", bin)
	}
	zlog.Debug().Msgf("ffmpeg started: pid=%d source=%s", cmd.Process.Pid, source)
	return s, nil
}

// ReadFrame fills frame (FrameSize samples) with the next 20ms of audio.
// A short final frame is padded with silence. io.EOF marks the end.
func (s *Stream) ReadFrame(frame []int16) error {
	n, err := io.ReadFull(s.reader, s.raw)
	switch {
	case errors.Is(err, io.EOF):
		return io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		clear(s.raw[n:])
	case err != nil:
		return errors.Wrap(err, "failed to read pcm")
	}

	for i := range frame {
		frame[i] = int16(binary.LittleEndian.Uint16(s.raw[i*2:]))
	}
	return nil
}

// Close stops ffmpeg and reports its failure, if any. A process killed
// by Close or by the context is not a failure.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stdout.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
	})
	return s.closeErr
}

// Wait waits for ffmpeg to exit after the whole stream was read and
// returns an error when it exited abnormally.
func (s *Stream) Wait() error {
	s.closeOnce.Do(func() {
		err := s.cmd.Wait()
		if err != nil {
			s.closeErr = errors.Wrapf(err, "ffmpeg failed: %s", s.Stderr())
		}
	})
	return s.closeErr
}

// Stderr returns what ffmpeg has logged so far.
func (s *Stream) Stderr() string {
	s.stderrMu.Lock()
	defer s.stderrMu.Unlock()
	return strings.TrimSpace(s.stderr.String())
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
