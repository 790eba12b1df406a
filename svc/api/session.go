package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"snipbin/pkg/domain"
)

// Session handling is deliberately minimal: the cookie carries the
// local user id signed with HMAC-SHA256. Anything richer (rotation,
// server-side sessions) belongs to a dedicated layer this service does
// not pretend to be.
const sessionCookie = "snipbin_session"

type sessions struct {
	secret []byte
}

func newSessions(secret string) *sessions {
	return &sessions{secret: []byte(secret)}
}

func (s *sessions) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (s *sessions) issue(w http.ResponseWriter, userID int64, secure bool) {
	payload := strconv.FormatInt(userID, 10)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    payload + "." + s.sign(payload),
		Path:     "/",
		MaxAge:   int((30 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *sessions) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// currentUser returns the authenticated local user id, or
// domain.AnonymousUser when the cookie is absent or fails verification.
// A forged cookie is treated the same as no cookie.
func (s *sessions) currentUser(r *http.Request) int64 {
	if len(s.secret) == 0 {
		return domain.AnonymousUser
	}
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return domain.AnonymousUser
	}
	payload, sig, ok := strings.Cut(c.Value, ".")
	if !ok {
		return domain.AnonymousUser
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(payload))) {
		return domain.AnonymousUser
	}
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil || id <= 0 {
		return domain.AnonymousUser
	}
	return id
}
