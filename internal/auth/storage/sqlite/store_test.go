package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/steamwings/fizzy/internal/auth/identity"
	"github.com/steamwings/fizzy/internal/auth/storage"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedIdentity(t *testing.T, store *Store, ident identity.Identity) identity.Identity {
	t.Helper()
	if ident.ID == "" {
		ident.ID = "identity-1"
	}
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
		ident.UpdatedAt = ident.CreatedAt
	}
	if err := store.PutIdentity(context.Background(), ident); err != nil {
		t.Fatalf("put identity: %v", err)
	}
	return ident
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStoreDBNilSafe(t *testing.T) {
	var store *Store
	if store.DB() != nil {
		t.Fatal("expected nil DB for nil store")
	}
}

func TestPutGetIdentityRoundTrip(t *testing.T) {
	store := openTempStore(t)

	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	input := identity.Identity{
		ID:        "identity-1",
		Email:     "user@example.com",
		CreatedAt: created,
		UpdatedAt: created,
	}
	if err := store.PutIdentity(context.Background(), input); err != nil {
		t.Fatalf("put identity: %v", err)
	}

	got, err := store.GetIdentityByEmail(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("get identity by email: %v", err)
	}
	if got.ID != input.ID || got.Email != input.Email {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if got.OIDCSubject != "" || got.OIDCProvider != "" {
		t.Fatalf("expected empty oidc linkage, got %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
}

func TestPutIdentityDuplicateEmailConflicts(t *testing.T) {
	store := openTempStore(t)
	seedIdentity(t, store, identity.Identity{Email: "user@example.com"})

	err := store.PutIdentity(context.Background(), identity.Identity{
		ID:        "identity-2",
		Email:     "user@example.com",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestPutIdentityDuplicateOIDCPairConflicts(t *testing.T) {
	store := openTempStore(t)
	seedIdentity(t, store, identity.Identity{
		Email:        "first@example.com",
		OIDCSubject:  "subject-1",
		OIDCProvider: "oidc",
	})

	err := store.PutIdentity(context.Background(), identity.Identity{
		ID:           "identity-2",
		Email:        "second@example.com",
		OIDCSubject:  "subject-1",
		OIDCProvider: "oidc",
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMultipleIdentitiesWithoutOIDCLinkage(t *testing.T) {
	store := openTempStore(t)
	seedIdentity(t, store, identity.Identity{ID: "identity-1", Email: "a@example.com"})
	seedIdentity(t, store, identity.Identity{ID: "identity-2", Email: "b@example.com"})

	count, err := store.CountIdentities(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestGetIdentityByOIDC(t *testing.T) {
	store := openTempStore(t)
	seedIdentity(t, store, identity.Identity{
		Email:        "sso@example.com",
		OIDCSubject:  "subject-9",
		OIDCProvider: "oidc",
	})

	got, err := store.GetIdentityByOIDC(context.Background(), "subject-9", "oidc")
	if err != nil {
		t.Fatalf("get by oidc: %v", err)
	}
	if got.Email != "sso@example.com" {
		t.Fatalf("Email = %q", got.Email)
	}

	if _, err := store.GetIdentityByOIDC(context.Background(), "subject-9", "other"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found for wrong provider, got %v", err)
	}
}

func TestUpdateIdentityEmail(t *testing.T) {
	store := openTempStore(t)
	ident := seedIdentity(t, store, identity.Identity{Email: "old@example.com"})
	now := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

	if err := store.UpdateIdentityEmail(context.Background(), ident.ID, "new@example.com", true, now); err != nil {
		t.Fatalf("update email: %v", err)
	}

	got, err := store.GetIdentity(context.Background(), ident.ID)
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if got.Email != "new@example.com" || !got.OIDCEmailVerified {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if !got.UpdatedAt.Equal(now) {
		t.Fatalf("UpdatedAt = %v, want %v", got.UpdatedAt, now)
	}
}

func TestUpdateIdentityEmailConflicts(t *testing.T) {
	store := openTempStore(t)
	seedIdentity(t, store, identity.Identity{ID: "identity-1", Email: "taken@example.com"})
	other := seedIdentity(t, store, identity.Identity{ID: "identity-2", Email: "mine@example.com"})

	err := store.UpdateIdentityEmail(context.Background(), other.ID, "taken@example.com", true, time.Now())
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestLinkIdentityOIDC(t *testing.T) {
	store := openTempStore(t)
	ident := seedIdentity(t, store, identity.Identity{Email: "link@example.com"})

	if err := store.LinkIdentityOIDC(context.Background(), ident.ID, "subject-5", "oidc", false, time.Now()); err != nil {
		t.Fatalf("link oidc: %v", err)
	}

	got, err := store.GetIdentityByOIDC(context.Background(), "subject-5", "oidc")
	if err != nil {
		t.Fatalf("get by oidc: %v", err)
	}
	if got.ID != ident.ID {
		t.Fatalf("linked wrong identity %q", got.ID)
	}
}

func TestLinkIdentityOIDCConflicts(t *testing.T) {
	store := openTempStore(t)
	seedIdentity(t, store, identity.Identity{
		ID:           "identity-1",
		Email:        "first@example.com",
		OIDCSubject:  "subject-1",
		OIDCProvider: "oidc",
	})
	other := seedIdentity(t, store, identity.Identity{ID: "identity-2", Email: "second@example.com"})

	err := store.LinkIdentityOIDC(context.Background(), other.ID, "subject-1", "oidc", true, time.Now())
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestDeleteIdentityCascadesSessionsAndLinks(t *testing.T) {
	store := openTempStore(t)
	ident := seedIdentity(t, store, identity.Identity{Email: "cascade@example.com"})

	session := storage.Session{ID: "session-1", IdentityID: ident.ID, CreatedAt: time.Now()}
	if err := store.PutSession(context.Background(), session); err != nil {
		t.Fatalf("put session: %v", err)
	}
	link := storage.MagicLink{
		ID:         "link-1",
		IdentityID: ident.ID,
		Code:       "code-1",
		Purpose:    storage.PurposeSignIn,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	if err := store.PutMagicLink(context.Background(), link); err != nil {
		t.Fatalf("put magic link: %v", err)
	}

	if err := store.DeleteIdentity(context.Background(), ident.ID); err != nil {
		t.Fatalf("delete identity: %v", err)
	}

	if _, err := store.GetSession(context.Background(), "session-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected session cascade, got %v", err)
	}
	if _, err := store.GetMagicLinkByCode(context.Background(), "code-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected magic link cascade, got %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	store := openTempStore(t)
	ident := seedIdentity(t, store, identity.Identity{Email: "session@example.com"})

	created := time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC)
	session := storage.Session{
		ID:         "session-1",
		IdentityID: ident.ID,
		UserAgent:  "TestAgent/1.0",
		IPAddress:  "203.0.113.9",
		CreatedAt:  created,
	}
	if err := store.PutSession(context.Background(), session); err != nil {
		t.Fatalf("put session: %v", err)
	}

	got, err := store.GetSession(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.IdentityID != ident.ID || got.UserAgent != "TestAgent/1.0" || got.IPAddress != "203.0.113.9" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("CreatedAt = %v", got.CreatedAt)
	}
}

func TestDeleteSessionIdempotent(t *testing.T) {
	store := openTempStore(t)
	ident := seedIdentity(t, store, identity.Identity{Email: "gone@example.com"})
	session := storage.Session{ID: "session-1", IdentityID: ident.ID, CreatedAt: time.Now()}
	if err := store.PutSession(context.Background(), session); err != nil {
		t.Fatalf("put session: %v", err)
	}

	if err := store.DeleteSession(context.Background(), "session-1"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := store.DeleteSession(context.Background(), "session-1"); err != nil {
		t.Fatalf("second delete should be idempotent: %v", err)
	}
}

func TestMagicLinkRoundTrip(t *testing.T) {
	store := openTempStore(t)
	ident := seedIdentity(t, store, identity.Identity{Email: "magic@example.com"})

	created := time.Date(2026, 2, 4, 7, 0, 0, 0, time.UTC)
	link := storage.MagicLink{
		ID:         "link-1",
		IdentityID: ident.ID,
		Code:       "secret-code",
		Purpose:    storage.PurposeSignUp,
		CreatedAt:  created,
		ExpiresAt:  created.Add(15 * time.Minute),
	}
	if err := store.PutMagicLink(context.Background(), link); err != nil {
		t.Fatalf("put magic link: %v", err)
	}

	got, err := store.GetMagicLinkByCode(context.Background(), "secret-code")
	if err != nil {
		t.Fatalf("get magic link: %v", err)
	}
	if got.IdentityID != ident.ID || got.Purpose != storage.PurposeSignUp {
		t.Fatalf("unexpected link: %+v", got)
	}
	if got.ConsumedAt != nil {
		t.Fatal("expected unconsumed link")
	}
}

func TestPutMagicLinkDuplicateCodeConflicts(t *testing.T) {
	store := openTempStore(t)
	ident := seedIdentity(t, store, identity.Identity{Email: "dup@example.com"})

	link := storage.MagicLink{
		ID:         "link-1",
		IdentityID: ident.ID,
		Code:       "same-code",
		Purpose:    storage.PurposeSignIn,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	if err := store.PutMagicLink(context.Background(), link); err != nil {
		t.Fatalf("put magic link: %v", err)
	}
	link.ID = "link-2"
	if err := store.PutMagicLink(context.Background(), link); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestConsumeMagicLinkAtMostOnce(t *testing.T) {
	store := openTempStore(t)
	ident := seedIdentity(t, store, identity.Identity{Email: "once@example.com"})
	link := storage.MagicLink{
		ID:         "link-1",
		IdentityID: ident.ID,
		Code:       "once-code",
		Purpose:    storage.PurposeSignIn,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	if err := store.PutMagicLink(context.Background(), link); err != nil {
		t.Fatalf("put magic link: %v", err)
	}

	ok, err := store.ConsumeMagicLink(context.Background(), "link-1", time.Now())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !ok {
		t.Fatal("expected first consumption to succeed")
	}

	ok, err = store.ConsumeMagicLink(context.Background(), "link-1", time.Now())
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if ok {
		t.Fatal("expected second consumption to fail")
	}
}

func TestConsumeMagicLinkConcurrent(t *testing.T) {
	store := openTempStore(t)
	ident := seedIdentity(t, store, identity.Identity{Email: "race@example.com"})
	link := storage.MagicLink{
		ID:         "link-1",
		IdentityID: ident.ID,
		Code:       "race-code",
		Purpose:    storage.PurposeSignIn,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	if err := store.PutMagicLink(context.Background(), link); err != nil {
		t.Fatalf("put magic link: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ConsumeMagicLink(context.Background(), "link-1", time.Now())
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for ok := range results {
		if ok {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one successful consumption, got %d", succeeded)
	}
}
