// Package feed is the read and write surface of the service: it resolves and
// paginates feeds, serves the cached global front page and performs post,
// follow and comment mutations.
//
// Every post mutation invalidates the PageCache synchronously before it
// returns, so the next request can never see new content next to an old
// cached rendering.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	appkafka "example.com/postfeed/internal/broker"
	"example.com/postfeed/internal/cache"
	"example.com/postfeed/internal/logger"
	"example.com/postfeed/internal/models"
	"example.com/postfeed/internal/pagination"
	"example.com/postfeed/internal/render"
	"example.com/postfeed/internal/store"
)

var logg = logger.New()

// Option mutates service configuration.
type Option func(*Service)

// WithPageSize sets the number of posts per page.
func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithRenderer replaces the JSON renderer.
func WithRenderer(fn render.Func) Option {
	return func(s *Service) {
		if fn != nil {
			s.render = fn
		}
	}
}

// WithPublisher announces committed post mutations as events from origin.
func WithPublisher(p appkafka.Publisher, origin string) Option {
	return func(s *Service) {
		s.publisher = p
		s.origin = origin
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

type Service struct {
	store     store.StoreInterface
	resolver  *Resolver
	cache     *cache.PageCache
	render    render.Func
	publisher appkafka.Publisher
	origin    string
	pageSize  int
	now       func() time.Time
}

// New wires a service over st. pc is the process-wide page cache; nil creates one.
func New(st store.StoreInterface, pc *cache.PageCache, opts ...Option) *Service {
	if pc == nil {
		pc = cache.New(nil)
	}
	s := &Service{
		store:    st,
		resolver: &Resolver{Posts: st, Follows: st, Directory: st},
		cache:    pc,
		render:   render.JSON,
		pageSize: pagination.DefaultPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cache returns the page cache the service invalidates.
func (s *Service) Cache() *cache.PageCache { return s.cache }

// --- Read path ---

// ListFeed resolves kind for viewer and returns the requested page, clamped
// to the valid range.
func (s *Service) ListFeed(ctx context.Context, viewer models.Viewer, kind models.FeedKind, page int) (models.FeedView, error) {
	res, err := s.resolver.Resolve(ctx, viewer, kind)
	if err != nil {
		return models.FeedView{}, err
	}

	view := models.FeedView{
		Kind:   kind.Type,
		Group:  res.Group,
		Author: res.Author,
		Page:   pagination.Paginate(res.Posts, page, s.pageSize),
	}

	if kind.Type == models.FeedProfile && !viewer.IsAnonymous() {
		following, err := s.store.IsFollowing(ctx, viewer.UserID, res.Author.ID)
		if err != nil {
			return models.FeedView{}, err
		}
		view.Following = &following
	}
	return view, nil
}

// RenderFeed returns the rendered feed. The global feed's first page is
// served from the page cache while the content version is unchanged; it
// carries no viewer-specific data.
func (s *Service) RenderFeed(ctx context.Context, viewer models.Viewer, kind models.FeedKind, page int) ([]byte, error) {
	if kind.Type != models.FeedGlobal || page > 1 {
		view, err := s.ListFeed(ctx, viewer, kind, page)
		if err != nil {
			return nil, err
		}
		return s.render(view)
	}

	version := s.cache.Version()
	if body, ok := s.cache.Get(version); ok {
		return body, nil
	}

	view, err := s.ListFeed(ctx, models.Anonymous(), kind, 1)
	if err != nil {
		return nil, err
	}
	body, err := s.render(view)
	if err != nil {
		return nil, err
	}
	s.cache.Put(version, body)
	return body, nil
}

// GetPost returns a post with its comments.
func (s *Service) GetPost(ctx context.Context, id int64) (models.PostDetail, error) {
	p, err := s.store.GetPost(ctx, id)
	if err != nil {
		return models.PostDetail{}, err
	}
	comments, err := s.store.ListComments(ctx, id)
	if err != nil {
		return models.PostDetail{}, err
	}
	return models.PostDetail{Post: p, Comments: comments}, nil
}

// IsFollowing reports whether viewer follows authorID. Anonymous viewers follow nobody.
func (s *Service) IsFollowing(ctx context.Context, viewer models.Viewer, authorID string) (bool, error) {
	if viewer.IsAnonymous() {
		return false, nil
	}
	return s.store.IsFollowing(ctx, viewer.UserID, authorID)
}

// --- Post mutations ---

func (s *Service) CreatePost(ctx context.Context, viewer models.Viewer, in models.NewPost) (models.Post, error) {
	if viewer.IsAnonymous() {
		return models.Post{}, models.ErrAuthRequired
	}
	in.AuthorID = viewer.UserID
	in.Text = strings.TrimSpace(in.Text)
	if in.Group != nil && *in.Group == "" {
		in.Group = nil
	}
	if err := check(in); err != nil {
		return models.Post{}, err
	}
	if in.Group != nil {
		if err := s.requireGroup(ctx, *in.Group); err != nil {
			return models.Post{}, err
		}
	}

	p, err := s.store.CreatePost(ctx, in)
	s.invalidate("create")
	if err != nil {
		return models.Post{}, err
	}
	s.publish(appkafka.PostCreated, p.ID)
	return p, nil
}

// UpdatePost changes a post's text, group or image. Only the author may do so.
func (s *Service) UpdatePost(ctx context.Context, viewer models.Viewer, id int64, u models.PostUpdate) (models.Post, error) {
	if viewer.IsAnonymous() {
		return models.Post{}, models.ErrAuthRequired
	}
	cur, err := s.store.GetPost(ctx, id)
	if err != nil {
		return models.Post{}, err
	}
	if cur.AuthorID != viewer.UserID {
		return models.Post{}, models.ErrNotAuthor
	}

	if u.Text != nil {
		text := strings.TrimSpace(*u.Text)
		if text == "" {
			return models.Post{}, models.Invalid("text", "is required")
		}
		u.Text = &text
	}
	if err := check(u); err != nil {
		return models.Post{}, err
	}
	if u.Group != nil && *u.Group != "" {
		if err := s.requireGroup(ctx, *u.Group); err != nil {
			return models.Post{}, err
		}
	}

	p, err := s.store.UpdatePost(ctx, id, u)
	s.invalidate("update")
	if err != nil {
		return models.Post{}, err
	}
	s.publish(appkafka.PostUpdated, p.ID)
	return p, nil
}

// DeletePost removes a post and its comments. A missing post is not an error.
func (s *Service) DeletePost(ctx context.Context, viewer models.Viewer, id int64) error {
	if viewer.IsAnonymous() {
		return models.ErrAuthRequired
	}
	cur, err := s.store.GetPost(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	if cur.AuthorID != viewer.UserID {
		return models.ErrNotAuthor
	}

	err = s.store.DeletePost(ctx, id)
	s.invalidate("delete")
	if err != nil {
		return err
	}
	s.publish(appkafka.PostDeleted, id)
	return nil
}

func (s *Service) requireGroup(ctx context.Context, slug string) error {
	if _, err := s.store.GetGroup(ctx, slug); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Invalid("group", "does not exist")
		}
		return err
	}
	return nil
}

// invalidate runs after every post write attempt, successful or not: a
// failed write may still have been partially applied.
func (s *Service) invalidate(op string) {
	s.cache.Invalidate()
	logg.Debug("feed", fmt.Sprintf("Page cache invalidated after %s", op))
}

func (s *Service) publish(t appkafka.EventType, postID int64) {
	if s.publisher == nil {
		return
	}
	e := appkafka.ContentEvent{Type: t, PostID: postID, Origin: s.origin, At: s.now().UTC()}
	if err := s.publisher.Publish(e); err != nil {
		logg.Error("feed", "Failed to publish content event", err)
	}
}

// --- Follows ---

func (s *Service) Follow(ctx context.Context, viewer models.Viewer, username string) error {
	authorID, err := s.followTarget(ctx, viewer, username)
	if err != nil {
		return err
	}
	if authorID == viewer.UserID {
		return models.ErrSelfFollow
	}
	return s.store.Follow(ctx, viewer.UserID, authorID)
}

func (s *Service) Unfollow(ctx context.Context, viewer models.Viewer, username string) error {
	authorID, err := s.followTarget(ctx, viewer, username)
	if err != nil {
		return err
	}
	return s.store.Unfollow(ctx, viewer.UserID, authorID)
}

func (s *Service) followTarget(ctx context.Context, viewer models.Viewer, username string) (string, error) {
	if viewer.IsAnonymous() {
		return "", models.ErrAuthRequired
	}
	id, err := s.store.GetUserIDByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", models.ErrNotFound
	}
	return id, nil
}

// --- Comments ---

// AddComment attaches a comment to a post. Comments are not part of the
// cached front page, so the cache is left alone.
func (s *Service) AddComment(ctx context.Context, viewer models.Viewer, postID int64, text string) (models.Comment, error) {
	if viewer.IsAnonymous() {
		return models.Comment{}, models.ErrAuthRequired
	}
	text = strings.TrimSpace(text)
	if err := checkVar("text", text, "required"); err != nil {
		return models.Comment{}, err
	}
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return models.Comment{}, err
	}
	return s.store.AddComment(ctx, models.Comment{PostID: postID, AuthorID: viewer.UserID, Text: text})
}

// --- Directory ---

// RegisterUser returns the id of username, creating the user if needed.
func (s *Service) RegisterUser(ctx context.Context, username string) (string, error) {
	if err := checkVar("username", username, "required,max=50,username"); err != nil {
		return "", err
	}
	return s.store.CreateUser(ctx, username)
}

func (s *Service) CreateGroup(ctx context.Context, viewer models.Viewer, g models.Group) (models.Group, error) {
	if viewer.IsAnonymous() {
		return models.Group{}, models.ErrAuthRequired
	}
	g.Title = strings.TrimSpace(g.Title)
	g.Slug = strings.TrimSpace(g.Slug)
	g.Description = strings.TrimSpace(g.Description)
	if err := check(g); err != nil {
		return models.Group{}, err
	}
	if err := s.store.CreateGroup(ctx, g); err != nil {
		return models.Group{}, err
	}
	return g, nil
}
