package ca

import (
	"context"
	"sync"
	"time"
)

// Record is an issued certificate and its revocation state.
type Record struct {
	IssuedCertificate

	RevokedAt     *time.Time `json:"revokedAt,omitempty"`
	RevokedReason string     `json:"revokedReason,omitempty"`
}

// Revoked reports whether the record carries revocation metadata.
func (r *Record) Revoked() bool {
	return r.RevokedAt != nil
}

// RecordStore keeps issued certificate records. Records are never
// modified except to set revocation fields once.
type RecordStore interface {
	Put(ctx context.Context, rec *Record) error
	BySerial(ctx context.Context, serial string) (*Record, error)
	ByFingerprint(ctx context.Context, fingerprint string) (*Record, error)

	// Revoke sets the revocation fields of serial. It returns
	// ErrAlreadyRevoked when the record is already revoked.
	Revoke(ctx context.Context, serial, reason string, at time.Time) (*Record, error)
}

// MemoryRecordStore is an in-process RecordStore.
type MemoryRecordStore struct {
	mu            sync.RWMutex
	bySerial      map[string]*Record
	byFingerprint map[string]string
}

// NewMemoryRecordStore returns an empty MemoryRecordStore.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		bySerial:      make(map[string]*Record),
		byFingerprint: make(map[string]string),
	}
}

func (s *MemoryRecordStore) Put(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.bySerial[rec.Serial] = &cp
	s.byFingerprint[rec.Fingerprint] = rec.Serial

	return nil
}

func (s *MemoryRecordStore) BySerial(_ context.Context, serial string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.bySerial[serial]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *rec

	return &cp, nil
}

func (s *MemoryRecordStore) ByFingerprint(ctx context.Context, fingerprint string) (*Record, error) {
	s.mu.RLock()
	serial, ok := s.byFingerprint[fingerprint]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	return s.BySerial(ctx, serial)
}

func (s *MemoryRecordStore) Revoke(_ context.Context, serial, reason string, at time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.bySerial[serial]
	if !ok {
		return nil, ErrNotFound
	}

	if rec.Revoked() {
		return nil, ErrAlreadyRevoked
	}

	rec.RevokedAt = &at
	rec.RevokedReason = reason

	cp := *rec

	return &cp, nil
}
