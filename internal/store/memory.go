package store

import (
	"context"
	"sync"
	"time"

	"example.com/postfeed/internal/models"
	"github.com/google/uuid"
)

type followKey struct {
	follower string
	author   string
}

// MemoryStore keeps everything in process. It backs tests and single-node
// deployments; a RWMutex serializes mutations.
type MemoryStore struct {
	// Now stamps new posts and comments. Tests replace it to force timestamp ties.
	Now func() time.Time

	mu         sync.RWMutex
	users      map[string]string // user id -> username
	userByName map[string]string // username -> user id
	groups     map[string]models.Group
	posts      map[int64]models.Post
	comments   map[int64][]models.Comment
	follows    map[followKey]struct{}
	lastPostID int64
}

// NewMemory initializes an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		Now:        time.Now,
		users:      make(map[string]string),
		userByName: make(map[string]string),
		groups:     make(map[string]models.Group),
		posts:      make(map[int64]models.Post),
		comments:   make(map[int64][]models.Comment),
		follows:    make(map[followKey]struct{}),
	}
}

func (m *MemoryStore) Close() {}

// --- Directory ---

func (m *MemoryStore) CreateUser(_ context.Context, username string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.userByName[username]; ok {
		return id, nil
	}
	id := uuid.NewString()
	m.users[id] = username
	m.userByName[username] = id
	return id, nil
}

func (m *MemoryStore) GetUserIDByUsername(_ context.Context, username string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userByName[username], nil
}

func (m *MemoryStore) GetUser(_ context.Context, userID string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.users[userID]
	if !ok {
		return models.User{}, models.ErrNotFound
	}
	return models.User{ID: userID, Username: name}, nil
}

func (m *MemoryStore) CreateGroup(_ context.Context, g models.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[g.Slug]; ok {
		return models.Invalid("slug", "is already taken")
	}
	m.groups[g.Slug] = g
	return nil
}

func (m *MemoryStore) GetGroup(_ context.Context, slug string) (models.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[slug]
	if !ok {
		return models.Group{}, models.ErrNotFound
	}
	return g, nil
}

// --- Posts ---

func (m *MemoryStore) CreatePost(_ context.Context, in models.NewPost) (models.Post, error) {
	if err := checkNewPost(in); err != nil {
		return models.Post{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	author, ok := m.users[in.AuthorID]
	if !ok {
		return models.Post{}, models.Invalid("author", "does not exist")
	}
	if in.Group != nil {
		if _, ok := m.groups[*in.Group]; !ok {
			return models.Post{}, models.Invalid("group", "does not exist")
		}
	}

	m.lastPostID++
	p := models.Post{
		ID:       m.lastPostID,
		AuthorID: in.AuthorID,
		Author:   author,
		Text:     in.Text,
		Group:    copySlug(in.Group),
		Image:    in.Image,
		Created:  m.Now(),
	}
	m.posts[p.ID] = p
	return clonePost(p), nil
}

func (m *MemoryStore) GetPost(_ context.Context, id int64) (models.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[id]
	if !ok {
		return models.Post{}, models.ErrNotFound
	}
	return clonePost(p), nil
}

func (m *MemoryStore) UpdatePost(_ context.Context, id int64, u models.PostUpdate) (models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return models.Post{}, models.ErrNotFound
	}
	if u.Text != nil {
		if *u.Text == "" {
			return models.Post{}, models.Invalid("text", "is required")
		}
		p.Text = *u.Text
	}
	if u.Group != nil {
		if *u.Group == "" {
			p.Group = nil
		} else {
			if _, ok := m.groups[*u.Group]; !ok {
				return models.Post{}, models.Invalid("group", "does not exist")
			}
			p.Group = copySlug(u.Group)
		}
	}
	if u.Image != nil {
		p.Image = *u.Image
	}
	m.posts[id] = p
	return clonePost(p), nil
}

func (m *MemoryStore) DeletePost(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.posts, id)
	delete(m.comments, id)
	return nil
}

func (m *MemoryStore) QueryOrdered(_ context.Context, f models.PostFilter) ([]models.Post, error) {
	m.mu.RLock()
	res := make([]models.Post, 0, len(m.posts))
	for _, p := range m.posts {
		if f.Match(p) {
			res = append(res, clonePost(p))
		}
	}
	m.mu.RUnlock()

	models.SortNewestFirst(res)
	return res, nil
}

// --- Follows ---

func (m *MemoryStore) Follow(_ context.Context, followerID, authorID string) error {
	if followerID == authorID {
		return models.ErrSelfFollow
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.follows[followKey{followerID, authorID}] = struct{}{}
	return nil
}

func (m *MemoryStore) Unfollow(_ context.Context, followerID, authorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.follows, followKey{followerID, authorID})
	return nil
}

func (m *MemoryStore) FollowedAuthorIDs(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := []string{}
	for k := range m.follows {
		if k.follower == userID {
			res = append(res, k.author)
		}
	}
	return res, nil
}

func (m *MemoryStore) IsFollowing(_ context.Context, followerID, authorID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.follows[followKey{followerID, authorID}]
	return ok, nil
}

// EdgeCount returns the number of follow edges.
func (m *MemoryStore) EdgeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.follows)
}

// --- Comments ---

func (m *MemoryStore) AddComment(_ context.Context, c models.Comment) (models.Comment, error) {
	if c.Text == "" {
		return models.Comment{}, models.Invalid("text", "is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[c.PostID]; !ok {
		return models.Comment{}, models.ErrNotFound
	}
	author, ok := m.users[c.AuthorID]
	if !ok {
		return models.Comment{}, models.Invalid("author", "does not exist")
	}
	c.ID = uuid.NewString()
	c.Author = author
	c.Created = m.Now()
	m.comments[c.PostID] = append(m.comments[c.PostID], c)
	return c, nil
}

func (m *MemoryStore) ListComments(_ context.Context, postID int64) ([]models.Comment, error) {
	m.mu.RLock()
	res := make([]models.Comment, len(m.comments[postID]))
	copy(res, m.comments[postID])
	m.mu.RUnlock()

	models.SortComments(res)
	return res, nil
}

func copySlug(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func clonePost(p models.Post) models.Post {
	p.Group = copySlug(p.Group)
	return p
}
