package trigger

import (
	"sort"
	"sync"
	"time"
)

const StatusActive = "active"

// Booking is the slice of a booking session this engine cares about.
type Booking struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// LiveLocationShare is the slice of a location share this engine cares about.
type LiveLocationShare struct {
	ConversationID string    `json:"conversation_id"`
	Status         string    `json:"status"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// BookingSource derives booking:<id> context keys from reported bookings.
type BookingSource struct {
	mu       sync.RWMutex
	bookings map[string]Booking
	onChange func()
}

func NewBookingSource() *BookingSource {
	return &BookingSource{bookings: make(map[string]Booking)}
}

// SetOnChange registers a hook fired after every replacement of the
// reported set. Used to kick reconciliation.
func (s *BookingSource) SetOnChange(hook func()) {
	s.mu.Lock()
	s.onChange = hook
	s.mu.Unlock()
}

// SetBookings replaces the full reported set.
func (s *BookingSource) SetBookings(bookings []Booking) {
	s.mu.Lock()
	s.bookings = make(map[string]Booking, len(bookings))
	for _, b := range bookings {
		if b.ID == "" {
			continue
		}
		s.bookings[b.ID] = b
	}
	hook := s.onChange
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
}

func (s *BookingSource) ActiveContextKeys() []ContextKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]ContextKey, 0, len(s.bookings))
	for _, b := range s.bookings {
		if b.Status != StatusActive {
			continue
		}
		keys = append(keys, BookingKey(b.ID))
	}
	sortKeys(keys)
	return keys
}

// LiveLocationSource derives live_location:<id> context keys from reported
// shares, filtered to unexpired active ones.
type LiveLocationSource struct {
	mu       sync.RWMutex
	shares   map[string]LiveLocationShare
	onChange func()
	now      func() time.Time
}

func NewLiveLocationSource() *LiveLocationSource {
	return &LiveLocationSource{
		shares: make(map[string]LiveLocationShare),
		now:    time.Now,
	}
}

func (s *LiveLocationSource) SetOnChange(hook func()) {
	s.mu.Lock()
	s.onChange = hook
	s.mu.Unlock()
}

// SetClock overrides the expiry clock. Test hook.
func (s *LiveLocationSource) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// SetShares replaces the full reported set.
func (s *LiveLocationSource) SetShares(shares []LiveLocationShare) {
	s.mu.Lock()
	s.shares = make(map[string]LiveLocationShare, len(shares))
	for _, sh := range shares {
		if sh.ConversationID == "" {
			continue
		}
		s.shares[sh.ConversationID] = sh
	}
	hook := s.onChange
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
}

func (s *LiveLocationSource) ActiveContextKeys() []ContextKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	keys := make([]ContextKey, 0, len(s.shares))
	for _, sh := range s.shares {
		if sh.Status != StatusActive {
			continue
		}
		if !sh.ExpiresAt.IsZero() && !sh.ExpiresAt.After(now) {
			continue
		}
		keys = append(keys, LiveLocationKey(sh.ConversationID))
	}
	sortKeys(keys)
	return keys
}

func sortKeys(keys []ContextKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}
