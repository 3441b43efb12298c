package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"example.com/postfeed/internal/logger"
	"example.com/postfeed/internal/middleware"
	"example.com/postfeed/internal/models"
	"example.com/postfeed/internal/pagination"
)

// --- Helpers ---

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrSelfFollow):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrNotAuthor):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, module string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logg.Error(module, "Request failed", err)
		http.Error(w, "internal error", status)
		return
	}
	logg.Debug(module, "Request rejected: "+err.Error())
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeRendered(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, module string, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logg.Error(module, "Invalid request body", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func postID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, models.ErrNotFound.Error(), http.StatusNotFound)
		return 0, false
	}
	return id, true
}

// --- Users & groups ---

// createUserHandler registers a username (or returns the existing one) and issues a token.
// Expects JSON body: {"username": "example"}
// Returns JSON response: {"user_id": <id>, "token": <jwt>}
func (s *Server) createUserHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
	}
	if !decodeBody(w, r, "http/users", &body) {
		return
	}

	userID, err := s.svc.RegisterUser(r.Context(), body.Username)
	if err != nil {
		writeError(w, "http/users", err)
		return
	}

	tokenStr, err := s.auth.Issue(userID)
	if err != nil {
		logg.Error("http/users", "Failed to generate token", err)
		http.Error(w, "failed to generate token", http.StatusInternalServerError)
		return
	}
	logg.Info("http/users", "Token issued for user_id="+userID)

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"token":   tokenStr,
	})
}

func (s *Server) createGroupHandler(w http.ResponseWriter, r *http.Request) {
	var body models.Group
	if !decodeBody(w, r, "http/groups", &body) {
		return
	}
	g, err := s.svc.CreateGroup(r.Context(), middleware.ViewerFromContext(r.Context()), body)
	if err != nil {
		writeError(w, "http/groups", err)
		return
	}
	logg.Info("http/groups", "Group created: "+g.Slug)
	writeJSON(w, http.StatusCreated, g)
}

// --- Feeds ---

func (s *Server) renderFeed(w http.ResponseWriter, r *http.Request, module string, kind models.FeedKind) {
	page := pagination.ParsePage(r.URL.Query().Get("page"))
	body, err := s.svc.RenderFeed(r.Context(), middleware.ViewerFromContext(r.Context()), kind, page)
	if err != nil {
		writeError(w, module, err)
		return
	}
	writeRendered(w, body)
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	s.renderFeed(w, r, "http/index", models.GlobalFeed())
}

func (s *Server) groupHandler(w http.ResponseWriter, r *http.Request) {
	s.renderFeed(w, r, "http/group", models.GroupFeed(r.PathValue("slug")))
}

func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	s.renderFeed(w, r, "http/profile", models.ProfileFeed(r.PathValue("username")))
}

func (s *Server) followIndexHandler(w http.ResponseWriter, r *http.Request) {
	s.renderFeed(w, r, "http/follow", models.FollowingFeed())
}

// --- Follows ---

func (s *Server) followHandler(w http.ResponseWriter, r *http.Request) {
	viewer := middleware.ViewerFromContext(r.Context())
	username := r.PathValue("username")
	if err := s.svc.Follow(r.Context(), viewer, username); err != nil {
		writeError(w, "http/follow", err)
		return
	}
	logg.Info("http/follow", logger.Anonymize("user_id="+viewer.UserID)+" followed "+username)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) unfollowHandler(w http.ResponseWriter, r *http.Request) {
	viewer := middleware.ViewerFromContext(r.Context())
	username := r.PathValue("username")
	if err := s.svc.Unfollow(r.Context(), viewer, username); err != nil {
		writeError(w, "http/follow", err)
		return
	}
	logg.Info("http/follow", logger.Anonymize("user_id="+viewer.UserID)+" unfollowed "+username)
	w.WriteHeader(http.StatusOK)
}

// --- Posts ---

// createPostHandler stores a post; the service invalidates the cached front page.
// Expects JSON body: {"text": "...", "group": "slug", "image": "path"}
func (s *Server) createPostHandler(w http.ResponseWriter, r *http.Request) {
	var body models.NewPost
	if !decodeBody(w, r, "http/posts", &body) {
		return
	}

	p, err := s.svc.CreatePost(r.Context(), middleware.ViewerFromContext(r.Context()), body)
	if err != nil {
		writeError(w, "http/posts", err)
		return
	}
	logg.Info("http/posts", "Post "+strconv.FormatInt(p.ID, 10)+" created")
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) postDetailHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	detail, err := s.svc.GetPost(r.Context(), id)
	if err != nil {
		writeError(w, "http/posts", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) updatePostHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	var body models.PostUpdate
	if !decodeBody(w, r, "http/posts", &body) {
		return
	}

	p, err := s.svc.UpdatePost(r.Context(), middleware.ViewerFromContext(r.Context()), id, body)
	if err != nil {
		writeError(w, "http/posts", err)
		return
	}
	logg.Info("http/posts", "Post "+strconv.FormatInt(id, 10)+" updated")
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deletePostHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	if err := s.svc.DeletePost(r.Context(), middleware.ViewerFromContext(r.Context()), id); err != nil {
		writeError(w, "http/posts", err)
		return
	}
	logg.Info("http/posts", "Post "+strconv.FormatInt(id, 10)+" deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addCommentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, "http/comments", &body) {
		return
	}

	c, err := s.svc.AddComment(r.Context(), middleware.ViewerFromContext(r.Context()), id, body.Text)
	if err != nil {
		writeError(w, "http/comments", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}
