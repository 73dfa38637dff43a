package provisioning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store used when Redis cannot be reached at
// startup and by tests that would otherwise need a live Redis. Records
// do not survive a restart and TTL is not enforced; it exists to keep the
// provisioning REST surface usable rather than to be a production backend.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Record
	byCode map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Record),
		byCode: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, creatorID string, maxClients int) (*Record, error) {
	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("generate room code: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if _, taken := s.byCode[code]; !taken {
			break
		}
		code, err = generateCode()
		if err != nil {
			return nil, fmt.Errorf("generate room code: %w", err)
		}
	}

	rec := &Record{
		ID:         uuid.NewString(),
		Code:       code,
		CreatorID:  creatorID,
		CreatedAt:  time.Now(),
		MaxClients: maxClients,
	}
	s.byID[rec.ID] = rec
	s.byCode[rec.Code] = rec.ID
	return rec, nil
}

func (s *MemoryStore) resolveID(idOrCode string) (string, bool) {
	if len(idOrCode) == CodeLength {
		id, ok := s.byCode[idOrCode]
		return id, ok
	}
	_, ok := s.byID[idOrCode]
	return idOrCode, ok
}

func (s *MemoryStore) Get(ctx context.Context, idOrCode string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.resolveID(idOrCode)
	if !ok {
		return nil, ErrNotFound
	}
	rec, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (s *MemoryStore) Delete(ctx context.Context, idOrCode, requesterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.resolveID(idOrCode)
	if !ok {
		return ErrNotFound
	}
	rec, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if rec.CreatorID != requesterID {
		return ErrPermissionDenied
	}
	delete(s.byID, rec.ID)
	delete(s.byCode, rec.Code)
	return nil
}
