package profile

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"wordcraft/blob"
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

// GetProfile handles GET /api/profile
func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	u, err := h.svc.Get(r.Context(), sess.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, u)
}

// EditProfile handles PUT /api/profile. It takes multipart form fields with
// an optional "picture" file, or a JSON body without a picture.
func (h *Handlers) EditProfile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var (
		upd     models.ProfileUpdate
		picture []byte
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&upd); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
	} else {
		if err := r.ParseMultipartForm(blob.MaxUploadSize); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Unable to parse form")
			return
		}
		upd = models.ProfileUpdate{
			Username: r.FormValue("username"),
			Email:    r.FormValue("email"),
			Phone:    r.FormValue("phone"),
			DOB:      r.FormValue("dob"),
			Gender:   r.FormValue("gender"),
		}
		var err error
		if picture, _, err = blob.ReadFormFile(r.MultipartForm, "picture"); err != nil {
			h.fail(w, err)
			return
		}
	}

	u, err := h.svc.Edit(r.Context(), sess.UserID, upd, picture)
	if err != nil {
		h.fail(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, u)
}

func (h *Handlers) fail(w http.ResponseWriter, err error) {
	if utils.StatusFor(err) >= http.StatusInternalServerError {
		h.log.Error("profile request failed", zap.Error(err))
	}
	utils.RespondWithErr(w, err)
}
