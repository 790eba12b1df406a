package domain

import (
	"time"
)

// AnonymousUser marks a paste without an owner. Surrogate user ids
// assigned by the store start at 1, so 0 is never a real principal.
const AnonymousUser int64 = 0

type Paste struct {
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	Language  string    `json:"language,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	IsPublic  bool      `json:"is_public"`
	UserID    int64     `json:"-"`

	// StoredContent is the column value as persisted: ciphertext for
	// private pastes, plain UTF-8 bytes for public ones. Only the
	// persistence and store layers touch it.
	StoredContent []byte `json:"-"`

	// DecryptFailed is set when the stored ciphertext could not be
	// authenticated. Content is empty in that case; callers must not
	// treat the zero value as legitimate paste text.
	DecryptFailed bool `json:"decrypt_failed,omitempty"`
}

type PastePreview struct {
	Key           string    `json:"key"`
	Preview       string    `json:"preview"`
	Language      string    `json:"language,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	IsPublic      bool      `json:"is_public"`
	DecryptFailed bool      `json:"decrypt_failed,omitempty"`
}

type CreateParams struct {
	Content  string
	Language string
	UserID   int64
	IsPublic bool
}
