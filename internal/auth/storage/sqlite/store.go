package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/steamwings/fizzy/internal/auth/identity"
	"github.com/steamwings/fizzy/internal/auth/storage"
	"github.com/steamwings/fizzy/internal/auth/storage/sqlite/migrations"
	sqlitemigrate "github.com/steamwings/fizzy/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

// Store implements auth persistence over SQLite.
//
// A single SQLite file backs identity state so every auth subflow shares the
// same transaction and visibility boundaries. Uniqueness constraints on the
// identities table are the only concurrency-detection mechanism: a lost race
// surfaces as storage.ErrConflict and the caller retries its resolution.
type Store struct {
	sqlDB *sql.DB
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// DB returns the raw database handle for callers that share the file.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Open opens an auth SQLite store and applies bundled migrations.
//
// This keeps startup and schema evolution in one place, instead of requiring
// callers to coordinate migrations independently.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	// modernc.org/sqlite only honors pragmas in _pragma=name(value) form;
	// other parameter spellings are silently dropped, leaving foreign keys
	// off and no busy timeout.
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// isConflictError detects SQLite uniqueness violations.
func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

// PutIdentity persists a new identity record.
func (s *Store) PutIdentity(ctx context.Context, ident identity.Identity) error {
	if strings.TrimSpace(ident.ID) == "" {
		return fmt.Errorf("identity id is required")
	}
	if strings.TrimSpace(ident.Email) == "" {
		return fmt.Errorf("identity email is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO identities (id, email, oidc_subject, oidc_provider, oidc_email_verified, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ident.ID,
		ident.Email,
		nullableString(ident.OIDCSubject),
		nullableString(ident.OIDCProvider),
		boolToInt(ident.OIDCEmailVerified),
		toMillis(ident.CreatedAt),
		toMillis(ident.UpdatedAt),
	)
	if err != nil {
		if isConflictError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

const identityColumns = `id, email, oidc_subject, oidc_provider, oidc_email_verified, created_at, updated_at`

func (s *Store) scanIdentity(row *sql.Row) (identity.Identity, error) {
	var (
		ident     identity.Identity
		subject   sql.NullString
		provider  sql.NullString
		verified  int64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&ident.ID, &ident.Email, &subject, &provider, &verified, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return identity.Identity{}, storage.ErrNotFound
		}
		return identity.Identity{}, fmt.Errorf("scan identity: %w", err)
	}
	ident.OIDCSubject = subject.String
	ident.OIDCProvider = provider.String
	ident.OIDCEmailVerified = verified != 0
	ident.CreatedAt = fromMillis(createdAt)
	ident.UpdatedAt = fromMillis(updatedAt)
	return ident, nil
}

// GetIdentity loads an identity by id.
func (s *Store) GetIdentity(ctx context.Context, identityID string) (identity.Identity, error) {
	if strings.TrimSpace(identityID) == "" {
		return identity.Identity{}, fmt.Errorf("identity id is required")
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = ?`, identityID)
	return s.scanIdentity(row)
}

// GetIdentityByEmail loads an identity by exact normalized email.
func (s *Store) GetIdentityByEmail(ctx context.Context, email string) (identity.Identity, error) {
	if strings.TrimSpace(email) == "" {
		return identity.Identity{}, fmt.Errorf("email is required")
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE email = ?`, email)
	return s.scanIdentity(row)
}

// GetIdentityByOIDC loads an identity by its federated composite key.
func (s *Store) GetIdentityByOIDC(ctx context.Context, subject, provider string) (identity.Identity, error) {
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(provider) == "" {
		return identity.Identity{}, fmt.Errorf("oidc subject and provider are required")
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+identityColumns+` FROM identities WHERE oidc_subject = ? AND oidc_provider = ?`, subject, provider)
	return s.scanIdentity(row)
}

// UpdateIdentityEmail changes the stored email through the verified path.
func (s *Store) UpdateIdentityEmail(ctx context.Context, identityID, email string, verified bool, now time.Time) error {
	if strings.TrimSpace(identityID) == "" {
		return fmt.Errorf("identity id is required")
	}
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("email is required")
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE identities SET email = ?, oidc_email_verified = ?, updated_at = ? WHERE id = ?`,
		email, boolToInt(verified), toMillis(now), identityID)
	if err != nil {
		if isConflictError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("update identity email: %w", err)
	}
	return requireRow(result)
}

// LinkIdentityOIDC sets the federated composite key on an existing identity.
func (s *Store) LinkIdentityOIDC(ctx context.Context, identityID, subject, provider string, verified bool, now time.Time) error {
	if strings.TrimSpace(identityID) == "" {
		return fmt.Errorf("identity id is required")
	}
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(provider) == "" {
		return fmt.Errorf("oidc subject and provider are required")
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE identities SET oidc_subject = ?, oidc_provider = ?, oidc_email_verified = ?, updated_at = ? WHERE id = ?`,
		subject, provider, boolToInt(verified), toMillis(now), identityID)
	if err != nil {
		if isConflictError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("link identity oidc: %w", err)
	}
	return requireRow(result)
}

// DeleteIdentity removes an identity. Sessions and magic links cascade.
func (s *Store) DeleteIdentity(ctx context.Context, identityID string) error {
	if strings.TrimSpace(identityID) == "" {
		return fmt.Errorf("identity id is required")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM identities WHERE id = ?`, identityID); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return nil
}

// CountIdentities returns the total identity count.
func (s *Store) CountIdentities(ctx context.Context) (int64, error) {
	var count int64
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// PutSession persists a session record.
func (s *Store) PutSession(ctx context.Context, session storage.Session) error {
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(session.IdentityID) == "" {
		return fmt.Errorf("session identity id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (id, identity_id, user_agent, ip_address, created_at)
VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.IdentityID, session.UserAgent, session.IPAddress, toMillis(session.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (storage.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return storage.Session{}, fmt.Errorf("session id is required")
	}
	var (
		session   storage.Session
		createdAt int64
	)
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, identity_id, user_agent, ip_address, created_at FROM sessions WHERE id = ?`, sessionID)
	err := row.Scan(&session.ID, &session.IdentityID, &session.UserAgent, &session.IPAddress, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.Session{}, storage.ErrNotFound
		}
		return storage.Session{}, fmt.Errorf("scan session: %w", err)
	}
	session.CreatedAt = fromMillis(createdAt)
	return session, nil
}

// DeleteSession removes a session. Deleting an absent session succeeds.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PutMagicLink persists a magic link code.
func (s *Store) PutMagicLink(ctx context.Context, link storage.MagicLink) error {
	if strings.TrimSpace(link.ID) == "" {
		return fmt.Errorf("magic link id is required")
	}
	if strings.TrimSpace(link.IdentityID) == "" {
		return fmt.Errorf("magic link identity id is required")
	}
	if strings.TrimSpace(link.Code) == "" {
		return fmt.Errorf("magic link code is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO magic_links (id, identity_id, code, purpose, created_at, expires_at, consumed_at)
VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		link.ID, link.IdentityID, link.Code, string(link.Purpose), toMillis(link.CreatedAt), toMillis(link.ExpiresAt))
	if err != nil {
		if isConflictError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert magic link: %w", err)
	}
	return nil
}

// GetMagicLinkByCode loads a magic link by its opaque code.
func (s *Store) GetMagicLinkByCode(ctx context.Context, code string) (storage.MagicLink, error) {
	if strings.TrimSpace(code) == "" {
		return storage.MagicLink{}, fmt.Errorf("magic link code is required")
	}
	var (
		link       storage.MagicLink
		purpose    string
		createdAt  int64
		expiresAt  int64
		consumedAt sql.NullInt64
	)
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, identity_id, code, purpose, created_at, expires_at, consumed_at FROM magic_links WHERE code = ?`, code)
	err := row.Scan(&link.ID, &link.IdentityID, &link.Code, &purpose, &createdAt, &expiresAt, &consumedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.MagicLink{}, storage.ErrNotFound
		}
		return storage.MagicLink{}, fmt.Errorf("scan magic link: %w", err)
	}
	link.Purpose = storage.MagicLinkPurpose(purpose)
	link.CreatedAt = fromMillis(createdAt)
	link.ExpiresAt = fromMillis(expiresAt)
	if consumedAt.Valid {
		consumed := fromMillis(consumedAt.Int64)
		link.ConsumedAt = &consumed
	}
	return link, nil
}

// ConsumeMagicLink marks a link consumed if and only if it is currently
// unconsumed. The compare-and-set guarantees at-most-once use when two
// redemption attempts race.
func (s *Store) ConsumeMagicLink(ctx context.Context, linkID string, consumedAt time.Time) (bool, error) {
	if strings.TrimSpace(linkID) == "" {
		return false, fmt.Errorf("magic link id is required")
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE magic_links SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`,
		toMillis(consumedAt), linkID)
	if err != nil {
		return false, fmt.Errorf("consume magic link: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume magic link rows: %w", err)
	}
	return affected == 1, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}
