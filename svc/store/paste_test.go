package store

import (
	"bytes"
	"context"
	"crypto/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"snipbin/pkg/crypt"
	"snipbin/pkg/domain"
	"snipbin/svc/db"
)

func newTestDB(t *testing.T) *db.SQLite {
	t.Helper()
	sqlDB, err := db.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return sqlDB
}

func newTestCipher(t *testing.T) *crypt.Cipher {
	t.Helper()
	key := make([]byte, crypt.KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	c, err := crypt.New(key)
	if err != nil {
		t.Fatalf("failed to build cipher: %v", err)
	}
	return c
}

func newTestUser(t *testing.T, sqlDB *db.SQLite, externalID string) int64 {
	t.Helper()
	u, err := NewUsers(sqlDB).Upsert(context.Background(), domain.ExternalProfile{
		ExternalID:  externalID,
		Login:       externalID,
		DisplayName: "Test " + externalID,
	})
	if err != nil {
		t.Fatalf("failed to upsert test user: %v", err)
	}
	return u.ID
}

func TestCreateGetPublicRoundTrip(t *testing.T) {
	sqlDB := newTestDB(t)
	pastes := NewPastes(sqlDB, newTestCipher(t), 0)
	ctx := context.Background()

	key, err := pastes.Create(ctx, domain.CreateParams{
		Content:  "fmt.Println(\"hello\")",
		Language: "go",
		UserID:   domain.AnonymousUser,
		IsPublic: true,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := pastes.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != "fmt.Println(\"hello\")" {
		t.Errorf("content mismatch: %q", got.Content)
	}
	if got.Language != "go" {
		t.Errorf("language mismatch: %q", got.Language)
	}
	if !got.IsPublic {
		t.Error("paste should be public")
	}
	if got.UserID != domain.AnonymousUser {
		t.Errorf("owner mismatch: %d", got.UserID)
	}
	if got.DecryptFailed {
		t.Error("public paste flagged as decrypt failure")
	}
}

func TestCreateGetPrivateRoundTrip(t *testing.T) {
	sqlDB := newTestDB(t)
	pastes := NewPastes(sqlDB, newTestCipher(t), 0)
	ctx := context.Background()
	owner := newTestUser(t, sqlDB, "ext-1")

	key, err := pastes.Create(ctx, domain.CreateParams{
		Content:  "secret snippet",
		UserID:   owner,
		IsPublic: false,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := pastes.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != "secret snippet" {
		t.Errorf("content mismatch: %q", got.Content)
	}
	if got.IsPublic {
		t.Error("paste should be private")
	}
	if got.UserID != owner {
		t.Errorf("owner mismatch: got %d, want %d", got.UserID, owner)
	}
}

func TestPrivateContentNeverStoredPlain(t *testing.T) {
	sqlDB := newTestDB(t)
	pastes := NewPastes(sqlDB, newTestCipher(t), 0)
	ctx := context.Background()
	owner := newTestUser(t, sqlDB, "ext-1")

	const plaintext = "api_token=deadbeefcafe"
	key, err := pastes.Create(ctx, domain.CreateParams{
		Content:  plaintext,
		UserID:   owner,
		IsPublic: false,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var raw []byte
	if err := sqlDB.DB().QueryRow("SELECT content FROM pastes WHERE key = ?", key).Scan(&raw); err != nil {
		t.Fatalf("raw select failed: %v", err)
	}
	if bytes.Contains(raw, []byte(plaintext)) {
		t.Error("stored column contains the private plaintext")
	}
}

func TestCreateValidation(t *testing.T) {
	sqlDB := newTestDB(t)
	pastes := NewPastes(sqlDB, newTestCipher(t), 64)
	ctx := context.Background()

	for _, content := range []string{"", "   ", "\n\t  \n"} {
		if _, err := pastes.Create(ctx, domain.CreateParams{Content: content, IsPublic: true}); !errors.Is(err, domain.ErrContentRequired) {
			t.Errorf("content %q: expected ErrContentRequired, got %v", content, err)
		}
	}

	big := strings.Repeat("a", 65)
	if _, err := pastes.Create(ctx, domain.CreateParams{Content: big, IsPublic: true}); !errors.Is(err, domain.ErrPasteTooLarge) {
		t.Errorf("oversized content: expected ErrPasteTooLarge, got %v", err)
	}

	// Exactly at the limit passes.
	if _, err := pastes.Create(ctx, domain.CreateParams{Content: strings.Repeat("a", 64), IsPublic: true}); err != nil {
		t.Errorf("content at limit: unexpected error %v", err)
	}
}

func TestCreatePrivateWithoutKey(t *testing.T) {
	sqlDB := newTestDB(t)
	pastes := NewPastes(sqlDB, nil, 0)
	ctx := context.Background()

	if _, err := pastes.Create(ctx, domain.CreateParams{Content: "secret", IsPublic: false}); !errors.Is(err, domain.ErrKeyUnavailable) {
		t.Errorf("expected ErrKeyUnavailable, got %v", err)
	}

	// Public creates keep working with no cipher.
	if _, err := pastes.Create(ctx, domain.CreateParams{Content: "open", IsPublic: true}); err != nil {
		t.Errorf("public create without cipher failed: %v", err)
	}
}

func TestCreateRetriesKeyCollision(t *testing.T) {
	sqlDB := newTestDB(t)
	pastes := NewPastes(sqlDB, newTestCipher(t), 0)
	ctx := context.Background()

	existing, err := pastes.Create(ctx, domain.CreateParams{Content: "first", IsPublic: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// First two draws collide with the existing row, the third is fresh.
	draws := []string{existing, existing, "fresh234"}
	i := 0
	pastes.newKey = func() string {
		k := draws[i]
		i++
		return k
	}

	key, err := pastes.Create(ctx, domain.CreateParams{Content: "second", IsPublic: true})
	if err != nil {
		t.Fatalf("Create with collisions failed: %v", err)
	}
	if key != "fresh234" {
		t.Errorf("expected retry to land on fresh key, got %q", key)
	}
	if i != 3 {
		t.Errorf("expected 3 key draws, got %d", i)
	}
}

func TestCreateKeyExhaustion(t *testing.T) {
	sqlDB := newTestDB(t)
	pastes := NewPastes(sqlDB, newTestCipher(t), 0)
	ctx := context.Background()

	existing, err := pastes.Create(ctx, domain.CreateParams{Content: "first", IsPublic: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	pastes.newKey = func() string { return existing }
	if _, err := pastes.Create(ctx, domain.CreateParams{Content: "second", IsPublic: true}); !errors.Is(err, domain.ErrKeyExhausted) {
		t.Errorf("expected ErrKeyExhausted, got %v", err)
	}
}

func TestGetMissingAndMalformedKeys(t *testing.T) {
	sqlDB := newTestDB(t)
	pastes := NewPastes(sqlDB, newTestCipher(t), 0)
	ctx := context.Background()

	for _, key := range []string{"zzzzz234", "", "no", "has space", "../../etc/passwd"} {
		if _, err := pastes.Get(ctx, key); !errors.Is(err, domain.ErrPasteNotFound) {
			t.Errorf("key %q: expected ErrPasteNotFound, got %v", key, err)
		}
	}
}

func TestGetWithRotatedKeyDegrades(t *testing.T) {
	sqlDB := newTestDB(t)
	ctx := context.Background()
	owner := newTestUser(t, sqlDB, "ext-1")

	writer := NewPastes(sqlDB, newTestCipher(t), 0)
	key, err := writer.Create(ctx, domain.CreateParams{Content: "secret", UserID: owner, IsPublic: false})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Same database read through a different key.
	reader := NewPastes(sqlDB, newTestCipher(t), 0)
	got, err := reader.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.DecryptFailed {
		t.Error("expected DecryptFailed on key mismatch")
	}
	if got.Content != "" {
		t.Errorf("unreadable paste leaked content: %q", got.Content)
	}
}

func TestListByOwner(t *testing.T) {
	sqlDB := newTestDB(t)
	pastes := NewPastes(sqlDB, newTestCipher(t), 0)
	ctx := context.Background()
	owner := newTestUser(t, sqlDB, "ext-1")
	other := newTestUser(t, sqlDB, "ext-2")

	mine := []string{}
	for _, content := range []string{"first paste", "second paste", "third paste"} {
		key, err := pastes.Create(ctx, domain.CreateParams{Content: content, UserID: owner, IsPublic: true})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		mine = append(mine, key)
	}
	if _, err := pastes.Create(ctx, domain.CreateParams{Content: "not mine", UserID: other, IsPublic: true}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := pastes.Create(ctx, domain.CreateParams{Content: "nobody's", UserID: domain.AnonymousUser, IsPublic: true}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	previews, err := pastes.ListByOwner(ctx, owner, 50, 150)
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	if len(previews) != 3 {
		t.Fatalf("expected 3 previews, got %d", len(previews))
	}
	listed := make(map[string]struct{})
	for _, p := range previews {
		listed[p.Key] = struct{}{}
	}
	for _, key := range mine {
		if _, ok := listed[key]; !ok {
			t.Errorf("own paste %q missing from listing", key)
		}
	}
}

func TestListDegradesPerRow(t *testing.T) {
	sqlDB := newTestDB(t)
	ctx := context.Background()
	owner := newTestUser(t, sqlDB, "ext-1")

	writer := NewPastes(sqlDB, newTestCipher(t), 0)
	if _, err := writer.Create(ctx, domain.CreateParams{Content: "old secret", UserID: owner, IsPublic: false}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// A different key makes the first row unreadable but must not take
	// the rest of the listing down with it.
	reader := NewPastes(sqlDB, newTestCipher(t), 0)
	if _, err := reader.Create(ctx, domain.CreateParams{Content: "readable", UserID: owner, IsPublic: true}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	previews, err := reader.ListByOwner(ctx, owner, 50, 150)
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	if len(previews) != 2 {
		t.Fatalf("expected 2 previews, got %d", len(previews))
	}
	var failed, ok int
	for _, p := range previews {
		if p.DecryptFailed {
			failed++
			if p.Preview != "" {
				t.Errorf("unreadable row leaked preview %q", p.Preview)
			}
		} else {
			ok++
			if p.Preview != "readable" {
				t.Errorf("readable row has preview %q", p.Preview)
			}
		}
	}
	if failed != 1 || ok != 1 {
		t.Errorf("got %d degraded and %d readable rows, want 1 and 1", failed, ok)
	}
}

func TestListByOwnerLimitAndAnonymous(t *testing.T) {
	sqlDB := newTestDB(t)
	pastes := NewPastes(sqlDB, newTestCipher(t), 0)
	ctx := context.Background()
	owner := newTestUser(t, sqlDB, "ext-1")

	for i := 0; i < 5; i++ {
		if _, err := pastes.Create(ctx, domain.CreateParams{Content: "paste body", UserID: owner, IsPublic: true}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	previews, err := pastes.ListByOwner(ctx, owner, 2, 150)
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	if len(previews) != 2 {
		t.Errorf("expected limit of 2 rows, got %d", len(previews))
	}

	anon, err := pastes.ListByOwner(ctx, domain.AnonymousUser, 50, 150)
	if err != nil {
		t.Fatalf("ListByOwner for anonymous failed: %v", err)
	}
	if len(anon) != 0 {
		t.Errorf("anonymous listing must be empty, got %d rows", len(anon))
	}
}

func TestListPreviewTruncation(t *testing.T) {
	sqlDB := newTestDB(t)
	pastes := NewPastes(sqlDB, newTestCipher(t), 0)
	ctx := context.Background()
	owner := newTestUser(t, sqlDB, "ext-1")

	long := strings.Repeat("\u00e9", 200)
	if _, err := pastes.Create(ctx, domain.CreateParams{Content: long, UserID: owner, IsPublic: true}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	previews, err := pastes.ListByOwner(ctx, owner, 50, 150)
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	if len(previews) != 1 {
		t.Fatalf("expected 1 preview, got %d", len(previews))
	}
	if got := len([]rune(previews[0].Preview)); got != 150 {
		t.Errorf("preview length %d runes, want 150", got)
	}
	// Truncation never splits a rune.
	if !strings.HasPrefix(long, previews[0].Preview) {
		t.Error("preview is not a prefix of the content")
	}
}

func TestDeleteOwnership(t *testing.T) {
	sqlDB := newTestDB(t)
	pastes := NewPastes(sqlDB, newTestCipher(t), 0)
	ctx := context.Background()
	owner := newTestUser(t, sqlDB, "ext-1")
	other := newTestUser(t, sqlDB, "ext-2")

	key, err := pastes.Create(ctx, domain.CreateParams{Content: "mine", UserID: owner, IsPublic: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	deleted, err := pastes.Delete(ctx, key, other)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if deleted {
		t.Error("non-owner deleted someone else's paste")
	}
	if _, err := pastes.Get(ctx, key); err != nil {
		t.Fatalf("paste should survive non-owner delete: %v", err)
	}

	deleted, err = pastes.Delete(ctx, key, owner)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !deleted {
		t.Error("owner delete reported no rows")
	}
	if _, err := pastes.Get(ctx, key); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("expected ErrPasteNotFound after delete, got %v", err)
	}
}

func TestDeleteMany(t *testing.T) {
	sqlDB := newTestDB(t)
	pastes := NewPastes(sqlDB, newTestCipher(t), 0)
	ctx := context.Background()
	owner := newTestUser(t, sqlDB, "ext-1")
	other := newTestUser(t, sqlDB, "ext-2")

	mine, err := pastes.Create(ctx, domain.CreateParams{Content: "mine", UserID: owner, IsPublic: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	theirs, err := pastes.Create(ctx, domain.CreateParams{Content: "theirs", UserID: other, IsPublic: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	deleted, requested, err := pastes.DeleteMany(ctx, []string{mine, theirs}, owner)
	if err != nil {
		t.Fatalf("DeleteMany failed: %v", err)
	}
	if deleted != 1 || requested != 2 {
		t.Errorf("got (deleted=%d, requested=%d), want (1, 2)", deleted, requested)
	}
	if _, err := pastes.Get(ctx, theirs); err != nil {
		t.Errorf("other user's paste should survive: %v", err)
	}
}

func TestDeleteManySkipsInvalidAndDuplicateKeys(t *testing.T) {
	sqlDB := newTestDB(t)
	pastes := NewPastes(sqlDB, newTestCipher(t), 0)
	ctx := context.Background()
	owner := newTestUser(t, sqlDB, "ext-1")

	key, err := pastes.Create(ctx, domain.CreateParams{Content: "mine", UserID: owner, IsPublic: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	deleted, requested, err := pastes.DeleteMany(ctx, []string{key, key, "", "not a key!"}, owner)
	if err != nil {
		t.Fatalf("DeleteMany failed: %v", err)
	}
	if deleted != 1 || requested != 4 {
		t.Errorf("got (deleted=%d, requested=%d), want (1, 4)", deleted, requested)
	}

	deleted, requested, err = pastes.DeleteMany(ctx, nil, owner)
	if err != nil {
		t.Fatalf("DeleteMany with no keys failed: %v", err)
	}
	if deleted != 0 || requested != 0 {
		t.Errorf("got (deleted=%d, requested=%d), want (0, 0)", deleted, requested)
	}
}

func TestContentNormalized(t *testing.T) {
	sqlDB := newTestDB(t)
	pastes := NewPastes(sqlDB, newTestCipher(t), 0)
	ctx := context.Background()

	// 'e' plus a combining acute normalizes to the precomposed form.
	decomposed := "cafe\u0301"
	key, err := pastes.Create(ctx, domain.CreateParams{Content: decomposed, IsPublic: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	got, err := pastes.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != "caf\u00e9" {
		t.Errorf("content not NFC-normalized: %q", got.Content)
	}
}
