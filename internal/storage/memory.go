package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-replay/replay-server/internal/models"
	"github.com/lorawan-replay/replay-server/pkg/lorawan"
)

// MemoryStore implements Store in process memory. Suitable for
// single-box deployments and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[lorawan.DevAddr]*models.DeviceSession
	decoders map[string]*models.Decoder
	users    map[string]*models.User
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[lorawan.DevAddr]*models.DeviceSession),
		decoders: make(map[string]*models.Decoder),
		users:    make(map[string]*models.User),
	}
}

// Close implements Store
func (s *MemoryStore) Close() error { return nil }

// ========== Sessions ==========

// GetSession returns a copy of the session for devAddr
func (s *MemoryStore) GetSession(_ context.Context, devAddr lorawan.DevAddr) (*models.DeviceSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[devAddr]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *session
	return &copied, nil
}

// PutSession stores a session, overwriting any previous one
func (s *MemoryStore) PutSession(_ context.Context, session *models.DeviceSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *session
	copied.UpdatedAt = time.Now()
	s.sessions[session.DevAddr] = &copied
	return nil
}

// DeleteSession removes the session for devAddr
func (s *MemoryStore) DeleteSession(_ context.Context, devAddr lorawan.DevAddr) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[devAddr]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, devAddr)
	return nil
}

// ListSessions returns all sessions sorted by DevAddr
func (s *MemoryStore) ListSessions(_ context.Context) ([]*models.DeviceSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*models.DeviceSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		copied := *session
		sessions = append(sessions, &copied)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].DevAddr.String() < sessions[j].DevAddr.String()
	})
	return sessions, nil
}

// AdvanceFrameCounter raises the stored counter, monotonic only
func (s *MemoryStore) AdvanceFrameCounter(_ context.Context, devAddr lorawan.DevAddr, fCnt uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[devAddr]
	if !ok {
		return ErrNotFound
	}
	if fCnt > session.LastFCnt {
		session.LastFCnt = fCnt
		session.UpdatedAt = time.Now()
	}
	return nil
}

// ========== Decoders ==========

// CreateDecoder registers a decoder; names are unique
func (s *MemoryStore) CreateDecoder(_ context.Context, decoder *models.Decoder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(decoder.Name)
	if _, ok := s.decoders[key]; ok {
		return ErrDuplicateKey
	}
	copied := *decoder
	if copied.ID == "" {
		copied.ID = uuid.New().String()
	}
	now := float64(time.Now().Unix())
	copied.CreatedAt = now
	copied.UpdatedAt = now
	s.decoders[key] = &copied
	return nil
}

// GetDecoder looks a decoder up by name (case-insensitive)
func (s *MemoryStore) GetDecoder(_ context.Context, name string) (*models.Decoder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	decoder, ok := s.decoders[strings.ToLower(name)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *decoder
	return &copied, nil
}

// ListDecoders returns all decoders sorted by name
func (s *MemoryStore) ListDecoders(_ context.Context) ([]*models.Decoder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	decoders := make([]*models.Decoder, 0, len(s.decoders))
	for _, decoder := range s.decoders {
		copied := *decoder
		decoders = append(decoders, &copied)
	}
	sort.Slice(decoders, func(i, j int) bool {
		return decoders[i].Name < decoders[j].Name
	})
	return decoders, nil
}

// DeleteDecoder removes a decoder by name
func (s *MemoryStore) DeleteDecoder(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(name)
	if _, ok := s.decoders[key]; !ok {
		return ErrNotFound
	}
	delete(s.decoders, key)
	return nil
}

// ========== Users ==========

// CreateUser registers a user; emails are unique
func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.Email)
	if _, ok := s.users[key]; ok {
		return ErrDuplicateKey
	}
	copied := *user
	if copied.ID == uuid.Nil {
		copied.ID = uuid.New()
	}
	copied.CreatedAt = time.Now()
	copied.UpdatedAt = copied.CreatedAt
	s.users[key] = &copied
	return nil
}

// GetUserByEmail looks a user up by email (case-insensitive)
func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *user
	return &copied, nil
}
