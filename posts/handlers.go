package posts

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"wordcraft/blob"
	"wordcraft/engagement"
	"wordcraft/middleware"
	"wordcraft/models"
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

// PostView is a single post as seen by the requesting user.
type PostView struct {
	models.FeedPost
	Liked      bool `json:"liked"`
	Bookmarked bool `json:"bookmarked"`
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if utils.StatusFor(err) >= http.StatusInternalServerError {
		h.log.Error("post request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	utils.RespondWithErr(w, err)
}

// parseDraft reads a post from a multipart form (title, category, content,
// optional image) or from a JSON body without an image.
func parseDraft(w http.ResponseWriter, r *http.Request) (models.PostDraft, error) {
	var d models.PostDraft
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Title    string `json:"title"`
			Category string `json:"category"`
			Content  string `json:"content"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
			return d, models.ErrInvalid
		}
		d.Title, d.Category, d.Content = body.Title, body.Category, body.Content
		return d, nil
	}

	if err := r.ParseMultipartForm(blob.MaxUploadSize); err != nil {
		return d, models.ErrInvalid
	}
	d.Title = r.FormValue("title")
	d.Category = r.FormValue("category")
	d.Content = r.FormValue("content")
	img, name, err := blob.ReadFormFile(r.MultipartForm, "image")
	if err != nil {
		return d, err
	}
	d.Image, d.ImageName = img, name
	return d, nil
}

// CreatePost handles POST /api/posts
func (h *Handlers) CreatePost(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	d, err := parseDraft(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.svc.Create(r.Context(), sess.UserID, d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, p)
}

// GetPost handles GET /api/posts/:authorid/:postid. Anonymous readers get
// the counts with liked/bookmarked false.
func (h *Handlers) GetPost(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fp, err := h.svc.Get(r.Context(), ps.ByName("authorid"), ps.ByName("postid"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view := PostView{FeedPost: fp}
	if sess, ok := middleware.SessionFrom(r.Context()); ok {
		st := engagement.StateOf(fp.Post, sess.UserID)
		view.Liked, view.Bookmarked = st.Liked, st.Bookmarked
	}
	utils.RespondWithJSON(w, http.StatusOK, view)
}

// EditPost handles PUT /api/posts/:authorid/:postid
func (h *Handlers) EditPost(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	d, err := parseDraft(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.svc.Edit(r.Context(), sess.UserID, ps.ByName("authorid"), ps.ByName("postid"), d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, p)
}

// DeletePost handles DELETE /api/posts/:authorid/:postid
func (h *Handlers) DeletePost(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err := h.svc.Delete(r.Context(), sess.UserID, ps.ByName("authorid"), ps.ByName("postid")); err != nil {
		h.fail(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"ok": true})
}
