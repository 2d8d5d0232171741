package feed

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"wordcraft/utils"
)

type Handlers struct {
	agg *Aggregator
	log *zap.Logger
}

func NewHandlers(agg *Aggregator, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{agg: agg, log: log}
}

// GetFeed handles GET /api/feed?category=&q=&offset=&limit=
func (h *Handlers) GetFeed(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	opts := utils.ParseQueryOptions(r)
	page, err := h.agg.Home(r.Context(), Query{
		Category: opts.Category,
		Search:   opts.Search,
		Offset:   opts.Offset,
		Limit:    opts.Limit,
	})
	if err != nil {
		h.log.Error("feed aggregation failed", zap.Error(err))
		utils.RespondWithErr(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"ok":    true,
		"data":  page.Posts,
		"total": page.Total,
	})
}
