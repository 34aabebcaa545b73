// Package store keeps the latest telemetry record and a bounded history
// per device, in memory, for the lifetime of the process.
//
// Every operation on a device runs under that device's lock, so a merge's
// read-modify-write is atomic against concurrent puts and merges of the
// same device. Operations on different devices only contend on the
// registry lock, which is held for map access and never across a device
// operation.
package store

import (
	"errors"
	"maps"
	"sync"

	"github.com/dratasich/telemetry-cache/clock"
	"github.com/dratasich/telemetry-cache/events"
)

// DefaultHistoryLimit is the number of records retained per device.
const DefaultHistoryLimit = 100

// ErrNotFound is returned for lookups of devices that never had a record.
var ErrNotFound = errors.New("device not found")

// UnknownDeviceError is returned when an operation targets a device that
// does not exist. It matches ErrNotFound with errors.Is.
type UnknownDeviceError struct {
	DeviceID string
}

func (e *UnknownDeviceError) Error() string {
	return "No telemetry for device " + e.DeviceID
}

func (e *UnknownDeviceError) Unwrap() error {
	return ErrNotFound
}

type device struct {
	mu      sync.Mutex
	latest  events.Record
	history *history
}

// Store is the single owner of all device state. The zero value is not
// usable; create one with New.
type Store struct {
	clock clock.Clock
	limit int

	mu      sync.RWMutex
	devices map[string]*device
	order   []string // device ids in first-put order
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to re-stamp merged records.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithHistoryLimit sets the per-device history capacity. Values below 1
// are ignored.
func WithHistoryLimit(n int) Option {
	return func(s *Store) {
		if n >= 1 {
			s.limit = n
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		clock:   clock.Real(),
		limit:   DefaultHistoryLimit,
		devices: make(map[string]*device),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HistoryLimit returns the per-device history capacity.
func (s *Store) HistoryLimit() int {
	return s.limit
}

// Len returns the number of known devices.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

func (s *Store) lookup(id string) (*device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	return d, ok
}

// Put makes rec the latest record of its device and appends it to the
// history, creating the device on first use. The record must already be
// normalized.
func (s *Store) Put(rec events.Record) events.Record {
	rec = rec.Clone()

	d, ok := s.lookup(rec.DeviceID)
	if !ok {
		s.mu.Lock()
		d, ok = s.devices[rec.DeviceID]
		if !ok {
			// a device becomes visible with its first record already in place
			d = &device{history: newHistory(s.limit)}
			d.append(rec)
			s.devices[rec.DeviceID] = d
			s.order = append(s.order, rec.DeviceID)
			s.mu.Unlock()
			return rec.Clone()
		}
		s.mu.Unlock()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.append(rec)
	return rec.Clone()
}

// Merge folds patch into the latest record of an existing device.
//
// Patch metrics are merged key by key over the existing metrics. The
// timestamp is taken from the patch, or re-stamped from the clock when the
// patch has none. The device id is never changed. Merge cannot create a
// device; it returns *UnknownDeviceError instead.
func (s *Store) Merge(id string, patch events.Patch) (events.Record, error) {
	d, ok := s.lookup(id)
	if !ok {
		return events.Record{}, &UnknownDeviceError{DeviceID: id}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	updated := d.latest.Clone()
	if patch.Metrics != nil {
		maps.Copy(updated.Metrics, patch.Metrics)
	}
	if patch.Timestamp != nil {
		updated.Timestamp = *patch.Timestamp
	} else {
		updated.Timestamp = clock.Stamp(s.clock)
	}

	d.append(updated)
	return updated.Clone(), nil
}

// caller holds d.mu
func (d *device) append(rec events.Record) {
	d.latest = rec
	d.history.push(rec)
}

// Latest returns the most recent record of a device.
func (s *Store) Latest(id string) (events.Record, error) {
	d, ok := s.lookup(id)
	if !ok {
		return events.Record{}, &UnknownDeviceError{DeviceID: id}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latest.Clone(), nil
}

// History returns up to limit of the most recent records of a device,
// oldest first. limit is clamped to [1, HistoryLimit()].
func (s *Store) History(id string, limit int) ([]events.Record, error) {
	d, ok := s.lookup(id)
	if !ok {
		return nil, &UnknownDeviceError{DeviceID: id}
	}
	limit = max(1, min(limit, s.limit))

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.history.last(limit), nil
}

// ListDevices returns every known device with the timestamp of its latest
// record, in the order devices were first seen.
func (s *Store) ListDevices() []events.DeviceSummary {
	s.mu.RLock()
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	devices := make([]*device, len(ids))
	for i, id := range ids {
		devices[i] = s.devices[id]
	}
	s.mu.RUnlock()

	out := make([]events.DeviceSummary, len(ids))
	for i, d := range devices {
		d.mu.Lock()
		out[i] = events.DeviceSummary{DeviceID: ids[i], LastTs: d.latest.Timestamp}
		d.mu.Unlock()
	}
	return out
}
