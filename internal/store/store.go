package store

import (
	"context"
	"fmt"

	config "example.com/postfeed/internal/init"
	"example.com/postfeed/internal/logger"
	"example.com/postfeed/internal/models"
)

var logg = logger.New()

// --- Interfaces ---

// PostStore owns posts. QueryOrdered is the only way feeds read posts and
// always returns them newest first, ties broken by descending id.
type PostStore interface {
	CreatePost(ctx context.Context, p models.NewPost) (models.Post, error)
	GetPost(ctx context.Context, id int64) (models.Post, error)
	UpdatePost(ctx context.Context, id int64, u models.PostUpdate) (models.Post, error)
	// DeletePost removes the post and its comments. Deleting a missing post is a no-op.
	DeletePost(ctx context.Context, id int64) error
	QueryOrdered(ctx context.Context, f models.PostFilter) ([]models.Post, error)
}

// FollowGraph holds directed follower -> author edges.
type FollowGraph interface {
	Follow(ctx context.Context, followerID, authorID string) error
	Unfollow(ctx context.Context, followerID, authorID string) error
	FollowedAuthorIDs(ctx context.Context, userID string) ([]string, error)
	IsFollowing(ctx context.Context, followerID, authorID string) (bool, error)
}

// Directory resolves users and groups.
type Directory interface {
	CreateUser(ctx context.Context, username string) (string, error)
	// GetUserIDByUsername returns "" without an error if the user does not exist.
	GetUserIDByUsername(ctx context.Context, username string) (string, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	CreateGroup(ctx context.Context, g models.Group) error
	GetGroup(ctx context.Context, slug string) (models.Group, error)
}

type CommentStore interface {
	AddComment(ctx context.Context, c models.Comment) (models.Comment, error)
	ListComments(ctx context.Context, postID int64) ([]models.Comment, error)
}

type StoreInterface interface {
	PostStore
	FollowGraph
	Directory
	CommentStore
	Close()
}

// Open builds the backend named by cfg.StoreBackend.
func Open(ctx context.Context, cfg *config.Config) (StoreInterface, error) {
	switch cfg.StoreBackend {
	case "", "memory":
		logg.Info("store", "Using in-memory store")
		return NewMemory(), nil
	case "cassandra":
		return NewCassandra(cfg)
	case "postgres":
		return NewPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func checkNewPost(p models.NewPost) error {
	if p.AuthorID == "" {
		return models.Invalid("author", "is required")
	}
	if p.Text == "" {
		return models.Invalid("text", "is required")
	}
	return nil
}
