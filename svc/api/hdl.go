package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"snipbin/cfg"
	"snipbin/pkg/domain"
	"snipbin/svc/store"
	"snipbin/svc/util"
)

type Hdl struct {
	pastes   *store.Pastes
	cfg      *cfg.Cfg
	sessions *sessions
}

type CreateReq struct {
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
	IsPublic *bool  `json:"is_public,omitempty"`
}

type CreateResp struct {
	Key string `json:"key"`
}

type PasteResp struct {
	Key           string    `json:"key"`
	Content       string    `json:"content"`
	Language      string    `json:"language,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	IsPublic      bool      `json:"is_public"`
	DecryptFailed bool      `json:"decrypt_failed,omitempty"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		log.Warn().Str("content_type", r.Header.Get("Content-Type")).Msg("invalid Content-Type header")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	// Encryption and storage overhead never doubles the payload; a
	// body past twice the paste cap is garbage either way.
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxPasteSize*2)
	var req CreateReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			log.Warn().Msg("empty request body")
		} else {
			log.Warn().Err(err).Msg("invalid request")
		}
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}
	userID := h.sessions.currentUser(r)
	key, err := h.pastes.Create(r.Context(), domain.CreateParams{
		Content:  req.Content,
		Language: req.Language,
		UserID:   userID,
		IsPublic: isPublic,
	})
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	log.Info().Str("key", key).Bool("public", isPublic).Int64("user_id", userID).Msg("paste created")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, CreateResp{Key: key})
}

func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	key := chi.URLParam(r, "key")
	if !util.ValidKey(key) {
		writeErr(w, domain.ErrPasteNotFound, requestID)
		return
	}
	paste, err := h.pastes.Get(r.Context(), key)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	requester := h.sessions.currentUser(r)
	if !domain.CanRead(paste.UserID, paste.IsPublic, requester) {
		log.Warn().Str("key", key).Int64("requester", requester).Msg("private paste access denied")
		writeErr(w, domain.ErrForbidden, requestID)
		return
	}
	writeJSON(w, PasteResp{
		Key:           paste.Key,
		Content:       paste.Content,
		Language:      paste.Language,
		CreatedAt:     paste.CreatedAt,
		IsPublic:      paste.IsPublic,
		DecryptFailed: paste.DecryptFailed,
	})
}

func (h *Hdl) MyPastes(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	userID := h.sessions.currentUser(r)
	if userID == domain.AnonymousUser {
		writeErr(w, domain.ErrUnauthorized, requestID)
		return
	}
	previews, err := h.pastes.ListByOwner(r.Context(), userID, h.cfg.ListLimit, h.cfg.PreviewLength)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	if previews == nil {
		previews = []domain.PastePreview{}
	}
	writeJSON(w, map[string]interface{}{"pastes": previews})
}

func (h *Hdl) DeletePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	key := chi.URLParam(r, "key")
	requester := h.sessions.currentUser(r)
	if requester == domain.AnonymousUser {
		writeErr(w, domain.ErrUnauthorized, requestID)
		return
	}
	paste, err := h.pastes.Get(r.Context(), key)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	if !domain.CanDelete(paste.UserID, requester) {
		log.Warn().Str("key", key).Int64("requester", requester).Msg("paste delete denied")
		writeErr(w, domain.ErrForbidden, requestID)
		return
	}
	deleted, err := h.pastes.Delete(r.Context(), key, requester)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	if !deleted {
		writeErr(w, domain.ErrPasteNotFound, requestID)
		return
	}
	log.Info().Str("key", key).Int64("user_id", requester).Msg("paste deleted")
	w.WriteHeader(http.StatusNoContent)
}

type DeleteManyReq struct {
	Keys []string `json:"keys"`
}

type DeleteManyResp struct {
	Deleted   int `json:"deleted"`
	Requested int `json:"requested"`
}

func (h *Hdl) DeleteSelected(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	requester := h.sessions.currentUser(r)
	if requester == domain.AnonymousUser {
		writeErr(w, domain.ErrUnauthorized, requestID)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
	var req DeleteManyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if len(req.Keys) == 0 {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	deleted, requested, err := h.pastes.DeleteMany(r.Context(), req.Keys, requester)
	if err != nil {
		writeErr(w, errors.Wrap(err, "bulk delete"), requestID)
		return
	}
	log.Info().Int("deleted", deleted).Int("requested", requested).Int64("user_id", requester).Msg("bulk delete completed")
	writeJSON(w, DeleteManyResp{Deleted: deleted, Requested: requested})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		util.Error().Err(err).Msg("failed to encode response")
	}
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	w.WriteHeader(statusCode)
	errorMsg := domain.ToResp(err).Error.Msg
	if statusCode >= 500 {
		errorMsg = "internal server error"
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	json.NewEncoder(w).Encode(map[string]string{
		"error":      errorMsg,
		"request_id": requestID,
	})
}
