package server

import (
	"context"
	"net/http"
	"time"

	"example.com/postfeed/internal/feed"
	"example.com/postfeed/internal/logger"
	"example.com/postfeed/internal/middleware"
)

type Server struct {
	svc  *feed.Service
	auth *middleware.Auth
}

// Config holds listener settings. TLS is enabled when both files are set.
type Config struct {
	Addr     string
	CertFile string
	KeyFile  string
}

var logg = logger.New()

func New(svc *feed.Service, auth *middleware.Auth) *Server {
	return &Server{svc: svc, auth: auth}
}

// Routes returns the HTTP handler with every route registered.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	required := func(h http.HandlerFunc) http.Handler { return s.auth.Required(h) }
	optional := func(h http.HandlerFunc) http.Handler { return s.auth.Optional(h) }

	// Public endpoint for user registration (no JWT required)
	mux.Handle("POST /users", http.HandlerFunc(s.createUserHandler))
	mux.Handle("POST /groups", required(s.createGroupHandler))

	// Feeds
	mux.Handle("GET /{$}", optional(s.indexHandler))
	mux.Handle("GET /group/{slug}", optional(s.groupHandler))
	mux.Handle("GET /profile/{username}", optional(s.profileHandler))
	mux.Handle("GET /follow", required(s.followIndexHandler))

	// Follows
	mux.Handle("POST /profile/{username}/follow", required(s.followHandler))
	mux.Handle("POST /profile/{username}/unfollow", required(s.unfollowHandler))

	// Posts
	mux.Handle("POST /posts", required(s.createPostHandler))
	mux.Handle("GET /posts/{id}", optional(s.postDetailHandler))
	mux.Handle("PATCH /posts/{id}", required(s.updatePostHandler))
	mux.Handle("DELETE /posts/{id}", required(s.deletePostHandler))
	mux.Handle("POST /posts/{id}/comments", required(s.addCommentHandler))

	return mux
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, svc *feed.Service, auth *middleware.Auth, cfg Config) {
	s := New(svc, auth)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second, // prevent slowloris attacks
		WriteTimeout: 10 * time.Second,
	}

	// --- Start server in a goroutine ---
	go func() {
		var err error
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			logg.Info("server", "Starting HTTPS server on "+cfg.Addr)
			err = srv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			logg.Info("server", "Starting HTTP server on "+cfg.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logg.Error("server", "Server stopped unexpectedly", err)
		}
	}()

	// --- Graceful shutdown ---
	<-ctx.Done()
	logg.Info("server", "Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("server", "Error during server shutdown", err)
	} else {
		logg.Info("server", "Server stopped gracefully")
	}
}
