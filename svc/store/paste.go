package store

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"

	"snipbin/metrics"
	"snipbin/pkg/crypt"
	"snipbin/pkg/domain"
	"snipbin/svc/db"
	"snipbin/svc/util"
)

// maxKeyAttempts bounds the collision-retry loop in Create. With an
// 8-char key over a 57-symbol alphabet a second collision is already
// absurd; five attempts is a guard against a wedged random source, not
// an expected path.
const maxKeyAttempts = 5

// Pastes implements paste CRUD over SQLite, applying the encryption
// policy for private pastes. It performs no authorization: callers run
// the domain access predicates before exposing anything returned here.
type Pastes struct {
	db      *db.SQLite
	cipher  *crypt.Cipher
	maxSize int64
	newKey  func() string
}

// NewPastes wires the store. cipher may be nil when no encryption key
// was loaded; public pastes keep working and private creates fail with
// ErrKeyUnavailable.
func NewPastes(sqlDB *db.SQLite, cipher *crypt.Cipher, maxSize int64) *Pastes {
	if sqlDB == nil {
		panic("paste store: nil database")
	}
	if maxSize <= 0 {
		maxSize = 1 << 20
	}
	return &Pastes{
		db:      sqlDB,
		cipher:  cipher,
		maxSize: maxSize,
		newKey:  util.GenKey,
	}
}

// Create validates, encrypts when private, and persists a new paste,
// retrying key collisions with fresh keys. Returns the assigned key.
func (p *Pastes) Create(ctx context.Context, params domain.CreateParams) (string, error) {
	content := norm.NFC.String(params.Content)
	if strings.TrimSpace(content) == "" {
		return "", domain.ErrContentRequired
	}
	if int64(len(content)) > p.maxSize {
		return "", domain.ErrPasteTooLarge
	}

	var stored []byte
	if params.IsPublic {
		stored = []byte(content)
	} else {
		// A private paste is never persisted unencrypted. No cipher,
		// no paste.
		if p.cipher == nil {
			return "", domain.ErrKeyUnavailable
		}
		blob, err := p.cipher.Encrypt(content)
		if err != nil {
			return "", errors.Wrap(err, "encrypt content")
		}
		stored = blob
	}

	paste := &domain.Paste{
		Language:      params.Language,
		CreatedAt:     time.Now().UTC(),
		IsPublic:      params.IsPublic,
		UserID:        params.UserID,
		StoredContent: stored,
	}
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		paste.Key = p.newKey()
		err := p.db.InsertPaste(ctx, paste)
		if err == nil {
			metrics.PasteCreated.Inc()
			return paste.Key, nil
		}
		if errors.Is(err, db.ErrDuplicateKey) {
			metrics.KeyCollisions.Inc()
			util.Warn().Str("key", paste.Key).Int("attempt", attempt+1).Msg("paste key collision, regenerating")
			continue
		}
		return "", errors.Wrap(err, "create paste")
	}
	return "", domain.ErrKeyExhausted
}

// Get fetches a paste by exact key. Private content is decrypted before
// return; if the ciphertext fails authentication the paste comes back
// with DecryptFailed set instead of an error, so one corrupted record
// cannot break anything around it. No authorization happens here.
func (p *Pastes) Get(ctx context.Context, key string) (*domain.Paste, error) {
	if !util.ValidKey(key) {
		return nil, domain.ErrPasteNotFound
	}
	paste, err := p.db.GetPaste(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return nil, domain.ErrPasteNotFound
		}
		return nil, errors.Wrap(err, "get paste")
	}
	p.materialize(paste)
	metrics.PasteRetrieved.Inc()
	return paste, nil
}

// ListByOwner returns the owner's most recent pastes, newest first,
// with content reduced to previewLen runes. A row whose ciphertext
// cannot be decrypted degrades to a DecryptFailed preview without
// aborting the rest of the listing.
func (p *Pastes) ListByOwner(ctx context.Context, ownerID int64, limit, previewLen int) ([]domain.PastePreview, error) {
	if ownerID == domain.AnonymousUser {
		return nil, nil
	}
	rows, err := p.db.ListPastesByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list pastes")
	}
	previews := make([]domain.PastePreview, 0, len(rows))
	for _, paste := range rows {
		p.materialize(paste)
		previews = append(previews, domain.PastePreview{
			Key:           paste.Key,
			Preview:       truncateRunes(paste.Content, previewLen),
			Language:      paste.Language,
			CreatedAt:     paste.CreatedAt,
			IsPublic:      paste.IsPublic,
			DecryptFailed: paste.DecryptFailed,
		})
	}
	return previews, nil
}

// Delete removes the paste only when owned by requesterID and reports
// whether a row went away. Authorization proper is the caller's job;
// the ownership clause in the SQL is defense in depth.
func (p *Pastes) Delete(ctx context.Context, key string, requesterID int64) (bool, error) {
	if !util.ValidKey(key) {
		return false, nil
	}
	deleted, err := p.db.DeletePaste(ctx, key, requesterID)
	if err != nil {
		return false, errors.Wrap(err, "delete paste")
	}
	if deleted {
		metrics.PasteDeleted.Inc()
	}
	return deleted, nil
}

// DeleteMany deletes every requested key owned by requesterID. Keys
// that do not exist or belong to someone else are skipped silently.
// Returns (deleted, requested).
func (p *Pastes) DeleteMany(ctx context.Context, keys []string, requesterID int64) (int, int, error) {
	requested := len(keys)
	valid := make([]string, 0, requested)
	seen := make(map[string]struct{}, requested)
	for _, k := range keys {
		if !util.ValidKey(k) {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		valid = append(valid, k)
	}
	if len(valid) == 0 {
		return 0, requested, nil
	}
	deleted, err := p.db.DeletePastesOwned(ctx, valid, requesterID)
	if err != nil {
		return 0, requested, errors.Wrap(err, "bulk delete pastes")
	}
	if deleted > 0 {
		metrics.PasteDeleted.Add(float64(deleted))
	}
	return deleted, requested, nil
}

// materialize turns the stored column into caller-facing Content,
// decrypting private rows. Decrypt failure is recorded on the paste,
// never raised: the record is unreadable, the operation is not broken.
func (p *Pastes) materialize(paste *domain.Paste) {
	if paste.IsPublic {
		paste.Content = string(paste.StoredContent)
		paste.StoredContent = nil
		return
	}
	plaintext, err := p.cipher.Decrypt(paste.StoredContent)
	if err != nil {
		util.Warn().Err(err).Str("key", paste.Key).Msg("paste decryption failed")
		paste.Content = ""
		paste.DecryptFailed = true
		paste.StoredContent = nil
		return
	}
	paste.Content = plaintext
	paste.StoredContent = nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
