package api

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"snipbin/cfg"
	"snipbin/pkg/domain"
	"snipbin/svc/store"
	"snipbin/svc/util"
)

// Yandex OAuth endpoints. The provider handshake is plain
// authorization-code flow; everything interesting happens after the
// profile comes back and store.Users.Upsert mints the local principal.
var yandexEndpoint = oauth2.Endpoint{
	AuthURL:  "https://oauth.yandex.ru/authorize",
	TokenURL: "https://oauth.yandex.ru/token",
}

const yandexProfileURL = "https://login.yandex.ru/info?format=json"

const stateCookie = "snipbin_oauth_state"

type Auth struct {
	oauth    *oauth2.Config
	users    *store.Users
	sessions *sessions
	secure   bool
}

func NewAuth(c *cfg.Cfg, users *store.Users) *Auth {
	return &Auth{
		oauth: &oauth2.Config{
			ClientID:     c.OAuthClientID,
			ClientSecret: c.OAuthClientSecret.Value(),
			RedirectURL:  c.OAuthRedirectURL,
			Endpoint:     yandexEndpoint,
		},
		users:    users,
		sessions: newSessions(c.SessionSecret.Value()),
		secure:   c.Environment == "production",
	}
}

func (a *Auth) enabled() bool {
	return a.oauth.ClientID != ""
}

// Login redirects to the provider with a random state bound to a
// short-lived cookie.
func (a *Auth) Login(w http.ResponseWriter, r *http.Request) {
	if !a.enabled() {
		writeErr(w, domain.ErrInvalidRequest, util.GetRequestID(r.Context()))
		return
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		writeErr(w, domain.ErrInternalServer, util.GetRequestID(r.Context()))
		return
	}
	state := base64.RawURLEncoding.EncodeToString(buf)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, a.oauth.AuthCodeURL(state), http.StatusFound)
}

type yandexProfile struct {
	ID           string `json:"id"`
	Login        string `json:"login"`
	DisplayName  string `json:"display_name"`
	DefaultEmail string `json:"default_email"`
}

// Callback finishes the code exchange, fetches the provider profile and
// establishes the local session. The exchange itself is the
// cryptographic validation the user store relies on.
func (a *Auth) Callback(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	if !a.enabled() {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	stateC, err := r.Cookie(stateCookie)
	if err != nil || stateC.Value == "" || r.URL.Query().Get("state") != stateC.Value {
		util.Warn().Str("request_id", requestID).Msg("oauth state mismatch")
		writeErr(w, domain.ErrUnauthorized, requestID)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	code := r.URL.Query().Get("code")
	if code == "" {
		writeErr(w, domain.ErrUnauthorized, requestID)
		return
	}
	token, err := a.oauth.Exchange(r.Context(), code)
	if err != nil {
		util.Warn().Err(err).Str("request_id", requestID).Msg("oauth code exchange failed")
		writeErr(w, domain.ErrUnauthorized, requestID)
		return
	}

	profile, err := a.fetchProfile(r, token)
	if err != nil {
		util.Error().Err(err).Str("request_id", requestID).Msg("oauth profile fetch failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	user, err := a.users.Upsert(r.Context(), profile)
	if err != nil {
		util.Error().Err(err).Str("request_id", requestID).Msg("user upsert failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	a.sessions.issue(w, user.ID, a.secure)
	util.Info().Int64("user_id", user.ID).Str("login", user.Login).Msg("user logged in")
	http.Redirect(w, r, "/", http.StatusFound)
}

func (a *Auth) fetchProfile(r *http.Request, token *oauth2.Token) (domain.ExternalProfile, error) {
	client := a.oauth.Client(r.Context(), token)
	resp, err := client.Get(yandexProfileURL)
	if err != nil {
		return domain.ExternalProfile{}, err
	}
	defer resp.Body.Close()
	var yp yandexProfile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&yp); err != nil {
		return domain.ExternalProfile{}, err
	}
	return domain.ExternalProfile{
		ExternalID:  yp.ID,
		Login:       yp.Login,
		DisplayName: yp.DisplayName,
		Email:       yp.DefaultEmail,
	}, nil
}

// Logout drops the session cookie. POST only; a GET must never mutate
// authentication state.
func (a *Auth) Logout(w http.ResponseWriter, r *http.Request) {
	a.sessions.clear(w)
	w.WriteHeader(http.StatusNoContent)
}
