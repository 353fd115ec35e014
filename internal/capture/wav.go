package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	wavHeaderSize = 44
	numChannels   = 1
	bitsPerSample = 16
	audioFormat   = 1 // PCM
)

// WAVDevice captures PCM16LE mono audio from a source reader into WAV
// segment files, one open stream at a time. The source is expected to
// deliver data continuously (a microphone pipe or a paced generator);
// reads must return promptly for Stop to stay bounded.
type WAVDevice struct {
	mu         sync.Mutex
	source     io.Reader
	sampleRate int
	busy       bool
}

func NewWAVDevice(source io.Reader, sampleRate int) *WAVDevice {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &WAVDevice{source: source, sampleRate: sampleRate}
}

func (d *WAVDevice) Begin(ctx context.Context, path string) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy {
		return nil, ErrBusy
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open segment file: %w", err)
	}
	if err := writeWAVHeader(f, 0, d.sampleRate); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write segment header: %w", err)
	}

	s := &wavStream{
		device: d,
		file:   f,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	d.busy = true
	go s.copyLoop(d.source)
	return s, nil
}

type wavStream struct {
	device *WAVDevice
	file   *os.File
	stop   chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	dataBytes int64
	finalized bool
}

func (s *wavStream) copyLoop(source io.Reader) {
	defer close(s.done)
	buf := make([]byte, 4096)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		n, err := source.Read(buf)
		if n > 0 {
			if _, werr := s.file.Write(buf[:n]); werr != nil {
				return
			}
			s.mu.Lock()
			s.dataBytes += int64(n)
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Stop drains the copier, backfills the RIFF sizes and reports final stats.
// The drain always completes before the header rewrite: the copier owns the
// file until done closes, and the source contract keeps the wait bounded.
func (s *wavStream) Stop(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return Stats{}, errors.New("stream already finalized")
	}
	s.finalized = true
	s.mu.Unlock()

	close(s.stop)
	<-s.done

	s.device.mu.Lock()
	s.device.busy = false
	s.device.mu.Unlock()

	s.mu.Lock()
	dataBytes := s.dataBytes
	s.mu.Unlock()

	stats := Stats{
		DurationMs: pcmDurationMs(dataBytes, s.device.sampleRate),
		SizeBytes:  wavHeaderSize + dataBytes,
	}

	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		s.file.Close()
		return stats, fmt.Errorf("rewind segment: %w", err)
	}
	if err := writeWAVHeader(s.file, uint32(dataBytes), s.device.sampleRate); err != nil {
		s.file.Close()
		return stats, fmt.Errorf("finalize segment header: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return stats, fmt.Errorf("close segment: %w", err)
	}
	return stats, nil
}

func writeWAVHeader(w io.Writer, dataSize uint32, sampleRate int) error {
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	if _, err := w.Write([]byte("RIFF")); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.Write([]byte("WAVE")); err != nil {
		return err
	}

	if _, err := w.Write([]byte("fmt ")); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(audioFormat)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(numChannels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byteRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blockAlign); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bitsPerSample)); err != nil {
		return err
	}

	if _, err := w.Write([]byte("data")); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, dataSize)
}

func pcmDurationMs(dataBytes int64, sampleRate int) int64 {
	byteRate := int64(sampleRate * numChannels * bitsPerSample / 8)
	if byteRate <= 0 {
		return 0
	}
	return dataBytes * 1000 / byteRate
}

// WAVDuration estimates a file's duration from its header byte rate and
// data size. Used to adopt orphaned segments whose writer died before
// finalizing; falls back to the on-disk size when the header sizes were
// never backfilled.
func WAVDuration(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, fmt.Errorf("read wav header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, errors.New("not a wav file")
	}

	byteRate := int64(binary.LittleEndian.Uint32(header[28:32]))
	dataSize := int64(binary.LittleEndian.Uint32(header[40:44]))
	if dataSize == 0 {
		info, err := f.Stat()
		if err != nil {
			return 0, err
		}
		dataSize = info.Size() - wavHeaderSize
	}
	if byteRate <= 0 || dataSize <= 0 {
		return 0, nil
	}
	return dataSize * 1000 / byteRate, nil
}
