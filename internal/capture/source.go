package capture

import (
	"io"
	"time"
)

// NewSilenceSource returns a PCM16LE mono source that emits zeroed samples
// paced to real time. It keeps the engine fully operational on hosts with
// no audio pipe configured.
func NewSilenceSource(sampleRate int) io.Reader {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &silenceSource{
		bytesPerTick: sampleRate * numChannels * bitsPerSample / 8 / int(time.Second/silenceTick),
	}
}

const silenceTick = 20 * time.Millisecond

type silenceSource struct {
	bytesPerTick int
}

func (s *silenceSource) Read(p []byte) (int, error) {
	time.Sleep(silenceTick)
	n := s.bytesPerTick
	if n > len(p) {
		n = len(p)
	}
	for i := 0; i < n; i++ {
		p[i] = 0
	}
	return n, nil
}
