package storage

import (
	"context"
	"errors"

	"github.com/lorawan-replay/replay-server/internal/models"
	"github.com/lorawan-replay/replay-server/pkg/lorawan"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

// SessionStore holds per-device session keys. DevAddr is the unique
// key; PutSession overwrites (last write wins).
type SessionStore interface {
	GetSession(ctx context.Context, devAddr lorawan.DevAddr) (*models.DeviceSession, error)
	PutSession(ctx context.Context, session *models.DeviceSession) error
	DeleteSession(ctx context.Context, devAddr lorawan.DevAddr) error
	ListSessions(ctx context.Context) ([]*models.DeviceSession, error)

	// AdvanceFrameCounter raises the stored counter to fCnt. The
	// update is atomic and monotonic: a stored value >= fCnt is left
	// untouched, and concurrent callers can never lower it.
	AdvanceFrameCounter(ctx context.Context, devAddr lorawan.DevAddr, fCnt uint32) error
}

// DecoderStore is the decoder registry
type DecoderStore interface {
	CreateDecoder(ctx context.Context, decoder *models.Decoder) error
	GetDecoder(ctx context.Context, name string) (*models.Decoder, error)
	ListDecoders(ctx context.Context) ([]*models.Decoder, error)
	DeleteDecoder(ctx context.Context, name string) error
}

// UserStore holds API accounts
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// Store is the full storage interface
type Store interface {
	SessionStore
	DecoderStore
	UserStore

	Close() error
}
