package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/lorawan-replay/replay-server/internal/models"
	"github.com/lorawan-replay/replay-server/pkg/lorawan"
)

// PostgresStore implements Store for PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// ========== Sessions ==========

// GetSession loads the session for devAddr
func (s *PostgresStore) GetSession(ctx context.Context, devAddr lorawan.DevAddr) (*models.DeviceSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT dev_addr, name, nwk_skey, app_skey, last_fcnt, updated_at
		FROM device_sessions WHERE dev_addr = $1`, devAddr.String())
	return scanSession(row)
}

// PutSession upserts a session (last write wins)
func (s *PostgresStore) PutSession(ctx context.Context, session *models.DeviceSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_sessions (dev_addr, name, nwk_skey, app_skey, last_fcnt, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (dev_addr) DO UPDATE SET
			name = EXCLUDED.name,
			nwk_skey = EXCLUDED.nwk_skey,
			app_skey = EXCLUDED.app_skey,
			last_fcnt = EXCLUDED.last_fcnt,
			updated_at = NOW()`,
		session.DevAddr.String(), session.Name,
		session.NwkSKey.String(), session.AppSKey.String(),
		int64(session.LastFCnt))
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// DeleteSession removes the session for devAddr
func (s *PostgresStore) DeleteSession(ctx context.Context, devAddr lorawan.DevAddr) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM device_sessions WHERE dev_addr = $1`, devAddr.String())
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessions returns all sessions ordered by DevAddr
func (s *PostgresStore) ListSessions(ctx context.Context) ([]*models.DeviceSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dev_addr, name, nwk_skey, app_skey, last_fcnt, updated_at
		FROM device_sessions ORDER BY dev_addr`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.DeviceSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// AdvanceFrameCounter raises the stored counter atomically; a stored
// value >= fCnt is left untouched.
func (s *PostgresStore) AdvanceFrameCounter(ctx context.Context, devAddr lorawan.DevAddr, fCnt uint32) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE device_sessions SET last_fcnt = $2, updated_at = NOW()
		WHERE dev_addr = $1 AND last_fcnt < $2`,
		devAddr.String(), int64(fCnt))
	if err != nil {
		return fmt.Errorf("advance frame counter: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// either the counter is already ahead or the session is gone
		var exists bool
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM device_sessions WHERE dev_addr = $1)`,
			devAddr.String()).Scan(&exists)
		if err != nil {
			return fmt.Errorf("advance frame counter: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.DeviceSession, error) {
	var (
		session           models.DeviceSession
		devAddr, nwk, app string
		lastFCnt          int64
	)
	err := row.Scan(&devAddr, &session.Name, &nwk, &app, &lastFCnt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	if session.DevAddr, err = lorawan.ParseDevAddr(devAddr); err != nil {
		return nil, fmt.Errorf("stored dev_addr: %w", err)
	}
	if session.NwkSKey, err = lorawan.ParseAES128Key(nwk); err != nil {
		return nil, fmt.Errorf("stored nwk_skey: %w", err)
	}
	if session.AppSKey, err = lorawan.ParseAES128Key(app); err != nil {
		return nil, fmt.Errorf("stored app_skey: %w", err)
	}
	session.LastFCnt = uint32(lastFCnt)
	return &session, nil
}

// ========== Decoders ==========

// CreateDecoder registers a decoder; names are unique
func (s *PostgresStore) CreateDecoder(ctx context.Context, decoder *models.Decoder) error {
	if decoder.ID == "" {
		decoder.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decoders (id, name, source, script, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())`,
		decoder.ID, decoder.Name, string(decoder.Source), decoder.Script)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create decoder: %w", err)
	}
	return nil
}

// GetDecoder looks a decoder up by name
func (s *PostgresStore) GetDecoder(ctx context.Context, name string) (*models.Decoder, error) {
	var (
		decoder              models.Decoder
		source               string
		createdAt, updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, source, script, created_at, updated_at
		FROM decoders WHERE lower(name) = lower($1)`, name).
		Scan(&decoder.ID, &decoder.Name, &source, &decoder.Script, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get decoder: %w", err)
	}
	decoder.Source = models.DecoderSource(source)
	decoder.CreatedAt = float64(createdAt.Unix())
	decoder.UpdatedAt = float64(updatedAt.Unix())
	return &decoder, nil
}

// ListDecoders returns all decoders ordered by name
func (s *PostgresStore) ListDecoders(ctx context.Context) ([]*models.Decoder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, source, script, created_at, updated_at
		FROM decoders ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list decoders: %w", err)
	}
	defer rows.Close()

	var decoders []*models.Decoder
	for rows.Next() {
		var (
			decoder              models.Decoder
			source               string
			createdAt, updatedAt time.Time
		)
		if err := rows.Scan(&decoder.ID, &decoder.Name, &source,
			&decoder.Script, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan decoder: %w", err)
		}
		decoder.Source = models.DecoderSource(source)
		decoder.CreatedAt = float64(createdAt.Unix())
		decoder.UpdatedAt = float64(updatedAt.Unix())
		decoders = append(decoders, &decoder)
	}
	return decoders, rows.Err()
}

// DeleteDecoder removes a decoder by name
func (s *PostgresStore) DeleteDecoder(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM decoders WHERE lower(name) = lower($1)`, name)
	if err != nil {
		return fmt.Errorf("delete decoder: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ========== Users ==========

// CreateUser registers a user
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, is_admin, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		user.ID, user.Email, user.Name, user.PasswordHash, user.IsAdmin, user.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByEmail looks a user up by email
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, is_admin, is_active, created_at, updated_at
		FROM users WHERE lower(email) = lower($1)`, email).
		Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash,
			&user.IsAdmin, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	if c, ok := err.(coder); ok {
		return c.SQLState() == "23505"
	}
	return false
}
