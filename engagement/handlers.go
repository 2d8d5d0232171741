package engagement

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"wordcraft/middleware"
	"wordcraft/utils"
)

type Handlers struct {
	svc *Service
	log *zap.Logger
}

func NewHandlers(svc *Service, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{svc: svc, log: log}
}

func refFrom(ps httprouter.Params) PostRef {
	return PostRef{AuthorID: ps.ByName("authorid"), PostID: ps.ByName("postid")}
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if utils.StatusFor(err) >= http.StatusInternalServerError {
		h.log.Error("engagement request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	utils.RespondWithErr(w, err)
}

// ToggleLike handles POST /api/posts/:authorid/:postid/like
func (h *Handlers) ToggleLike(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized: user not found")
		return
	}
	st, err := h.svc.ToggleLike(r.Context(), refFrom(ps), sess.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, st)
}

// ToggleBookmark handles POST /api/posts/:authorid/:postid/bookmark
func (h *Handlers) ToggleBookmark(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized: user not found")
		return
	}
	st, err := h.svc.ToggleBookmark(r.Context(), refFrom(ps), sess.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, st)
}

// ListBookmarks handles GET /api/bookmarks
func (h *Handlers) ListBookmarks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized: user not found")
		return
	}
	entries, err := h.svc.Bookmarks(r.Context(), sess.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"bookmarks": entries})
}

// Unbookmark handles DELETE /api/bookmarks/:authorid/:postid
func (h *Handlers) Unbookmark(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized: user not found")
		return
	}
	ref := refFrom(ps)
	if err := h.svc.UnbookmarkFromIndex(r.Context(), ref.PostID, ref.AuthorID, sess.UserID); err != nil {
		h.fail(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"ok": true})
}

// Reconcile handles POST /api/bookmarks/reconcile
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized: user not found")
		return
	}
	rep, err := h.svc.Reconcile(r.Context(), sess.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, rep)
}
