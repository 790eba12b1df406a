package db

import (
	"context"
	"database/sql"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"snipbin/pkg/domain"
)

var (
	ErrCircuitOpen  = errors.New("database circuit breaker open")
	ErrDuplicateKey = errors.New("duplicate paste key")
)

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	// _foreign_keys must ride the DSN: PRAGMA foreign_keys is
	// per-connection and the pool opens connections lazily.
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	case circuitHalfOpen:
		return nil
	default:
		return nil
	}
}

func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	_, err = s.db.Exec("PRAGMA synchronous=FULL")
	if err != nil {
		return errors.Wrap(err, "set synchronous mode")
	}
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT UNIQUE NOT NULL,
		login TEXT,
		display_name TEXT,
		email TEXT,
		created_at DATETIME NOT NULL,
		last_login DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_external_id ON users(external_id);
	CREATE TABLE IF NOT EXISTS pastes (
		key TEXT PRIMARY KEY,
		content BLOB NOT NULL,
		language TEXT,
		created_at DATETIME NOT NULL,
		is_public INTEGER NOT NULL DEFAULT 1 CHECK(is_public IN (0, 1)),
		user_id INTEGER REFERENCES users(id) ON DELETE SET NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_user_id ON pastes(user_id);
	CREATE INDEX IF NOT EXISTS idx_pastes_created_at ON pastes(created_at);
	`
	_, err = s.db.Exec(query)
	return err
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}

func ownerToNull(userID int64) sql.NullInt64 {
	if userID == domain.AnonymousUser {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: userID, Valid: true}
}

// InsertPaste stores a single row. Returns ErrDuplicateKey on a
// primary-key collision so the caller can retry with a fresh key.
func (s *SQLite) InsertPaste(ctx context.Context, p *domain.Paste) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO pastes (key, content, language, created_at, is_public, user_id)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	var lang sql.NullString
	if p.Language != "" {
		lang = sql.NullString{String: p.Language, Valid: true}
	}
	_, err := s.db.ExecContext(queryCtx, q,
		p.Key, p.StoredContent, lang, p.CreatedAt, boolToInt(p.IsPublic), ownerToNull(p.UserID),
	)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	s.recordError(err)
	return errors.Wrap(err, "db insert paste")
}

// GetPaste returns the raw stored row; StoredContent is ciphertext for
// private pastes and plain UTF-8 bytes for public ones. Decryption is
// the store's job, not this layer's.
func (s *SQLite) GetPaste(ctx context.Context, key string) (*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT key, content, language, created_at, is_public, user_id
	FROM pastes WHERE key = ?
	`
	var (
		p      domain.Paste
		lang   sql.NullString
		pub    int
		userID sql.NullInt64
	)
	err := s.db.QueryRowContext(queryCtx, q, key).Scan(
		&p.Key, &p.StoredContent, &lang, &p.CreatedAt, &pub, &userID,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get paste")
	}
	p.Language = lang.String
	p.IsPublic = pub == 1
	if userID.Valid {
		p.UserID = userID.Int64
	} else {
		p.UserID = domain.AnonymousUser
	}
	return &p, nil
}

// ListPastesByOwner returns up to limit rows owned by userID, newest
// first. Content stays raw; the store turns rows into previews.
func (s *SQLite) ListPastesByOwner(ctx context.Context, userID int64, limit int) ([]*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT key, content, language, created_at, is_public, user_id
	FROM pastes
	WHERE user_id = ?
	ORDER BY created_at DESC
	LIMIT ?
	`
	rows, err := s.db.QueryContext(queryCtx, q, userID, limit)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db list pastes")
	}
	defer rows.Close()

	var pastes []*domain.Paste
	for rows.Next() {
		var (
			p     domain.Paste
			lang  sql.NullString
			pub   int
			owner sql.NullInt64
		)
		if err := rows.Scan(&p.Key, &p.StoredContent, &lang, &p.CreatedAt, &pub, &owner); err != nil {
			return nil, errors.Wrap(err, "db scan paste row")
		}
		p.Language = lang.String
		p.IsPublic = pub == 1
		if owner.Valid {
			p.UserID = owner.Int64
		}
		pastes = append(pastes, &p)
	}
	if err := rows.Err(); err != nil {
		s.recordError(err)
		return nil, errors.Wrap(err, "db iterate paste rows")
	}
	return pastes, nil
}

// DeletePaste removes the row only when it is owned by userID. The
// ownership predicate runs at the handler; repeating it in the WHERE
// clause keeps a missed check from turning into data loss.
func (s *SQLite) DeletePaste(ctx context.Context, key string, userID int64) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `DELETE FROM pastes WHERE key = ? AND user_id = ?`
	res, err := s.db.ExecContext(queryCtx, q, key, userID)
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "db delete paste")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "db delete paste rows affected")
	}
	return affected > 0, nil
}

// DeletePastesOwned deletes every listed key that belongs to userID in
// one statement and reports how many rows actually went away. Keys that
// are missing or owned by someone else are skipped silently.
func (s *SQLite) DeletePastesOwned(ctx context.Context, keys []string, userID int64) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	placeholders := strings.Repeat("?,", len(keys))
	placeholders = placeholders[:len(placeholders)-1]
	q := `DELETE FROM pastes WHERE key IN (` + placeholders + `) AND user_id = ?`
	args := make([]interface{}, 0, len(keys)+1)
	for _, k := range keys {
		args = append(args, k)
	}
	args = append(args, userID)
	res, err := s.db.ExecContext(queryCtx, q, args...)
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "db bulk delete pastes")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "db bulk delete rows affected")
	}
	return int(affected), nil
}

// UpsertUser inserts a user row for a first login or refreshes the
// cached profile fields and last_login for a returning one. Single
// statement, so two concurrent first logins cannot duplicate the row.
func (s *SQLite) UpsertUser(ctx context.Context, profile domain.ExternalProfile) (*domain.User, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	now := time.Now().UTC()
	q := `
	INSERT INTO users (external_id, login, display_name, email, created_at, last_login)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(external_id) DO UPDATE SET
		login = excluded.login,
		display_name = excluded.display_name,
		email = excluded.email,
		last_login = excluded.last_login
	RETURNING id, external_id, login, display_name, email, created_at, last_login
	`
	var (
		u                  domain.User
		login, name, email sql.NullString
	)
	err := s.db.QueryRowContext(queryCtx, q,
		profile.ExternalID, profile.Login, profile.DisplayName, profile.Email, now, now,
	).Scan(&u.ID, &u.ExternalID, &login, &name, &email, &u.CreatedAt, &u.LastLogin)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db upsert user")
	}
	u.Login = login.String
	u.DisplayName = name.String
	u.Email = email.String
	return &u, nil
}

func (s *SQLite) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, external_id, login, display_name, email, created_at, last_login
	FROM users WHERE id = ?
	`
	var (
		u                  domain.User
		login, name, email sql.NullString
	)
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(
		&u.ID, &u.ExternalID, &login, &name, &email, &u.CreatedAt, &u.LastLogin,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrUserNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get user")
	}
	u.Login = login.String
	u.DisplayName = name.String
	u.Email = email.String
	return &u, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
