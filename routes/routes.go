// Package routes mounts every handler on the router.
package routes

import (
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"wordcraft/auth"
	"wordcraft/engagement"
	"wordcraft/feed"
	"wordcraft/live"
	"wordcraft/middleware"
	"wordcraft/posts"
	"wordcraft/profile"
	"wordcraft/ratelim"
)

// Deps carries the constructed handler sets. Nil members skip their routes.
type Deps struct {
	Auth        *middleware.Auth
	RateLimiter *ratelim.RateLimiter

	AuthHandlers       *auth.Handlers
	ProfileHandlers    *profile.Handlers
	FeedHandlers       *feed.Handlers
	PostHandlers       *posts.Handlers
	EngagementHandlers *engagement.Handlers
	Hub                *live.Hub
	// BlobDir is served under /static/.
	BlobDir string
}

// Index is a simple health check handler.
func Index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	fmt.Fprint(w, "200")
}

func New(d Deps) *httprouter.Router {
	router := httprouter.New()
	router.GET("/health", Index)

	AddAuthRoutes(router, d)
	AddProfileRoutes(router, d)
	AddFeedRoutes(router, d)
	AddPostRoutes(router, d)
	AddBookmarkRoutes(router, d)
	AddLiveRoutes(router, d)
	AddStaticRoutes(router, d)
	return router
}

func limit(d Deps, h httprouter.Handle) httprouter.Handle {
	if d.RateLimiter == nil {
		return h
	}
	return d.RateLimiter.Limit(h)
}

func AddAuthRoutes(router *httprouter.Router, d Deps) {
	h := d.AuthHandlers
	if h == nil {
		return
	}
	router.POST("/api/auth/register", limit(d, h.Register))
	router.POST("/api/auth/login", limit(d, h.Login))
	router.POST("/api/auth/logout", d.Auth.Authenticate(h.Logout))
	router.POST("/api/auth/password/forgot", limit(d, h.ForgotPassword))
	router.POST("/api/auth/password/reset", limit(d, h.ResetPassword))
}

func AddProfileRoutes(router *httprouter.Router, d Deps) {
	h := d.ProfileHandlers
	if h == nil {
		return
	}
	router.GET("/api/profile", d.Auth.Authenticate(h.GetProfile))
	router.PUT("/api/profile", limit(d, d.Auth.Authenticate(h.EditProfile)))
}

func AddFeedRoutes(router *httprouter.Router, d Deps) {
	if d.FeedHandlers == nil {
		return
	}
	router.GET("/api/feed", limit(d, d.Auth.OptionalAuth(d.FeedHandlers.GetFeed)))
}

func AddPostRoutes(router *httprouter.Router, d Deps) {
	if h := d.PostHandlers; h != nil {
		router.POST("/api/posts", limit(d, d.Auth.Authenticate(h.CreatePost)))
		router.GET("/api/posts/:authorid/:postid", limit(d, d.Auth.OptionalAuth(h.GetPost)))
		router.PUT("/api/posts/:authorid/:postid", limit(d, d.Auth.Authenticate(h.EditPost)))
		router.DELETE("/api/posts/:authorid/:postid", d.Auth.Authenticate(h.DeletePost))
	}
	if h := d.EngagementHandlers; h != nil {
		router.POST("/api/posts/:authorid/:postid/like", limit(d, d.Auth.Authenticate(h.ToggleLike)))
		router.POST("/api/posts/:authorid/:postid/bookmark", limit(d, d.Auth.Authenticate(h.ToggleBookmark)))
	}
}

func AddBookmarkRoutes(router *httprouter.Router, d Deps) {
	h := d.EngagementHandlers
	if h == nil {
		return
	}
	router.GET("/api/bookmarks", d.Auth.Authenticate(h.ListBookmarks))
	router.DELETE("/api/bookmarks/:authorid/:postid", limit(d, d.Auth.Authenticate(h.Unbookmark)))
	router.POST("/api/bookmarks/reconcile", limit(d, d.Auth.Authenticate(h.Reconcile)))
}

func AddLiveRoutes(router *httprouter.Router, d Deps) {
	if d.Hub == nil {
		return
	}
	router.GET("/api/live/posts/:postid", limit(d, live.WebSocketHandler(d.Hub)))
}

func AddStaticRoutes(router *httprouter.Router, d Deps) {
	if d.BlobDir == "" {
		return
	}
	router.ServeFiles("/static/*filepath", http.Dir(d.BlobDir))
}
