// Package store keeps the latest reading of every instrument in memory.
//
// All operations run under one mutex. Consecutive calls are not atomic with
// respect to each other: another writer may update an instrument between an
// Update and a following Get.
package store

import (
	"sort"
	"sync"
	"time"

	"observatory-collector/internal/conditions"
)

// Store maps instrument codes to their merged readings. Entries are created
// on the first update and are never removed.
type Store struct {
	mu          sync.Mutex
	instruments map[string]*Reading
	now         func() time.Time
}

func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock is New with an injectable clock for update timestamps.
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		instruments: make(map[string]*Reading),
		now:         now,
	}
}

// Update merges fields into the entry for code, creating it if needed, and
// stamps it with the current time.
func (s *Store) Update(code string, fields Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.instruments[code]
	if !ok {
		r = &Reading{}
		s.instruments[code] = r
	}
	r.Merge(fields)
	r.Timestamp = s.now().UTC()
}

// Get returns a copy of the reading for code, or an empty Reading.
func (s *Store) Get(code string) Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.instruments[code]
	if !ok {
		return Reading{}
	}
	return Reading{Fields: r.clone(), Timestamp: r.Timestamp}
}

// GetAll returns a copy of every entry.
func (s *Store) GetAll() map[string]Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Reading, len(s.instruments))
	for code, r := range s.instruments {
		out[code] = Reading{Fields: r.clone(), Timestamp: r.Timestamp}
	}
	return out
}

// Codes returns the known instrument codes in ascending order.
func (s *Store) Codes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codesLocked()
}

func (s *Store) codesLocked() []string {
	out := make([]string, 0, len(s.instruments))
	for code := range s.instruments {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// GetCombined folds every instrument into one legacy single-instrument
// reading. Instruments are visited in ascending code order and the last
// non-nil value of each field wins; LoRa sensors accumulate. Condition
// labels nobody reported stay Unknown.
func (s *Store) GetCombined() Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	combined := Reading{
		Fields: Fields{
			CloudCondition: conditions.Unknown.Ptr(),
			RainCondition:  conditions.Unknown.Ptr(),
			WindCondition:  conditions.Unknown.Ptr(),
			DayCondition:   conditions.Unknown.Ptr(),
			LoRaSensors:    make(map[string]LoRaSensor),
		},
	}
	for _, code := range s.codesLocked() {
		r := s.instruments[code]
		combined.Merge(r.Fields)
		if !r.Timestamp.IsZero() {
			combined.Timestamp = r.Timestamp
		}
	}
	return combined
}
