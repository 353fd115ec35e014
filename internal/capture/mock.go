package capture

import (
	"context"
	"sync"
)

// MockDevice is a controllable in-memory device for tests.
type MockDevice struct {
	mu sync.Mutex

	// ForceBusy makes every Begin fail with ErrBusy.
	ForceBusy bool
	// BeginErr, when set, is returned by Begin as-is.
	BeginErr error
	// StopErr, when set, is returned by the next Stop.
	StopErr error
	// StopStats is reported by Stop when StopErr is nil.
	StopStats Stats

	begins  int
	stops   int
	open    bool
	payload []string
}

func (d *MockDevice) Begin(ctx context.Context, path string) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ForceBusy || d.open {
		return nil, ErrBusy
	}
	if d.BeginErr != nil {
		return nil, d.BeginErr
	}
	d.begins++
	d.open = true
	d.payload = append(d.payload, path)
	return &mockStream{device: d}, nil
}

func (d *MockDevice) Begins() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.begins
}

func (d *MockDevice) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

func (d *MockDevice) Open() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *MockDevice) Paths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.payload))
	copy(out, d.payload)
	return out
}

type mockStream struct {
	device *MockDevice
	once   sync.Once
}

func (s *mockStream) Stop(ctx context.Context) (Stats, error) {
	var stats Stats
	var err error
	s.once.Do(func() {
		s.device.mu.Lock()
		defer s.device.mu.Unlock()
		s.device.open = false
		s.device.stops++
		if s.device.StopErr != nil {
			err = s.device.StopErr
			s.device.StopErr = nil
			return
		}
		stats = s.device.StopStats
	})
	return stats, err
}
