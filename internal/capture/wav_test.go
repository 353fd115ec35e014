package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// 3200 bytes of PCM16LE mono at 16kHz is exactly 100ms.
const testDataBytes = 3200

func waitForDrain(t *testing.T, path string, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		info, err := os.Stat(path)
		if err == nil && info.Size() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("segment file never reached %d bytes", want)
}

func TestWAVDeviceCaptureAndFinalize(t *testing.T) {
	source := bytes.NewReader(make([]byte, testDataBytes))
	device := NewWAVDevice(source, 16000)
	path := filepath.Join(t.TempDir(), "seg.wav")

	stream, err := device.Begin(context.Background(), path)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	waitForDrain(t, path, wavHeaderSize+testDataBytes)

	stats, err := stream.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if stats.DurationMs != 100 {
		t.Fatalf("Stop() DurationMs = %d, want 100", stats.DurationMs)
	}
	if stats.SizeBytes != wavHeaderSize+testDataBytes {
		t.Fatalf("Stop() SizeBytes = %d, want %d", stats.SizeBytes, wavHeaderSize+testDataBytes)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(raw) != wavHeaderSize+testDataBytes {
		t.Fatalf("file size = %d, want %d", len(raw), wavHeaderSize+testDataBytes)
	}
	if string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		t.Fatalf("file is not a RIFF/WAVE container")
	}
	if got := binary.LittleEndian.Uint32(raw[40:44]); got != testDataBytes {
		t.Fatalf("data chunk size = %d, want %d (header not backfilled)", got, testDataBytes)
	}
	if got := binary.LittleEndian.Uint32(raw[24:28]); got != 16000 {
		t.Fatalf("sample rate = %d, want 16000", got)
	}
}

func TestWAVDeviceSingleStream(t *testing.T) {
	device := NewWAVDevice(bytes.NewReader(nil), 16000)
	dir := t.TempDir()

	first, err := device.Begin(context.Background(), filepath.Join(dir, "a.wav"))
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := device.Begin(context.Background(), filepath.Join(dir, "b.wav")); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Begin() error = %v, want ErrBusy", err)
	}

	if _, err := first.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	second, err := device.Begin(context.Background(), filepath.Join(dir, "c.wav"))
	if err != nil {
		t.Fatalf("Begin() after release error = %v", err)
	}
	if _, err := second.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestWAVStreamStopTwice(t *testing.T) {
	device := NewWAVDevice(bytes.NewReader(nil), 16000)
	stream, err := device.Begin(context.Background(), filepath.Join(t.TempDir(), "seg.wav"))
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := stream.Stop(context.Background()); err != nil {
		t.Fatalf("first Stop() error = %v", err)
	}
	if _, err := stream.Stop(context.Background()); err == nil {
		t.Fatalf("second Stop() error = nil, want already-finalized error")
	}
}

func TestWAVStreamStopCanceledContextStillFinalizes(t *testing.T) {
	source := bytes.NewReader(make([]byte, testDataBytes))
	device := NewWAVDevice(source, 16000)
	path := filepath.Join(t.TempDir(), "seg.wav")

	stream, err := device.Begin(context.Background(), path)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	waitForDrain(t, path, wavHeaderSize+testDataBytes)

	// An expired deadline must not skip the drain: the copier owns the file
	// until it exits, and a header written concurrently with its writes
	// would corrupt the segment.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := stream.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if stats.SizeBytes != wavHeaderSize+testDataBytes {
		t.Fatalf("Stop() SizeBytes = %d, want %d", stats.SizeBytes, wavHeaderSize+testDataBytes)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := binary.LittleEndian.Uint32(raw[40:44]); got != testDataBytes {
		t.Fatalf("data chunk size = %d, want %d (header not backfilled)", got, testDataBytes)
	}
}

func TestWAVDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "done.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := writeWAVHeader(f, testDataBytes, 16000); err != nil {
		t.Fatalf("writeWAVHeader() error = %v", err)
	}
	if _, err := f.Write(make([]byte, testDataBytes)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	f.Close()

	ms, err := WAVDuration(path)
	if err != nil {
		t.Fatalf("WAVDuration() error = %v", err)
	}
	if ms != 100 {
		t.Fatalf("WAVDuration() = %d, want 100", ms)
	}
}

func TestWAVDurationOrphanFallsBackToFileSize(t *testing.T) {
	// An orphan's header still carries zero sizes because the writer died
	// before Stop could backfill them.
	path := filepath.Join(t.TempDir(), "orphan.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := writeWAVHeader(f, 0, 16000); err != nil {
		t.Fatalf("writeWAVHeader() error = %v", err)
	}
	if _, err := f.Write(make([]byte, testDataBytes)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	f.Close()

	ms, err := WAVDuration(path)
	if err != nil {
		t.Fatalf("WAVDuration() error = %v", err)
	}
	if ms != 100 {
		t.Fatalf("WAVDuration() = %d, want 100 from size fallback", ms)
	}
}

func TestWAVDurationRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0xAB}, 64), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := WAVDuration(path); err == nil {
		t.Fatalf("WAVDuration() error = nil, want not-a-wav error")
	}
}
