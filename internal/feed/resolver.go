package feed

import (
	"context"
	"errors"

	"example.com/postfeed/internal/models"
	"example.com/postfeed/internal/store"
)

// Resolved is the ordered post sequence of a feed plus the entity it belongs to.
type Resolved struct {
	Posts  []models.Post
	Group  *models.Group
	Author *models.User
}

// Resolver maps (viewer, feed kind) to an ordered post sequence. Every kind
// goes through PostStore.QueryOrdered so ordering never differs between feeds.
type Resolver struct {
	Posts     store.PostStore
	Follows   store.FollowGraph
	Directory store.Directory
}

func (r *Resolver) Resolve(ctx context.Context, viewer models.Viewer, kind models.FeedKind) (Resolved, error) {
	switch kind.Type {
	case models.FeedGlobal:
		posts, err := r.Posts.QueryOrdered(ctx, models.AllPosts())
		return Resolved{Posts: posts}, err

	case models.FeedGroup:
		g, err := r.Directory.GetGroup(ctx, kind.Slug)
		if err != nil {
			return Resolved{}, err
		}
		posts, err := r.Posts.QueryOrdered(ctx, models.ByGroup(g.Slug))
		return Resolved{Posts: posts, Group: &g}, err

	case models.FeedProfile:
		u, err := r.user(ctx, kind.Username)
		if err != nil {
			return Resolved{}, err
		}
		posts, err := r.Posts.QueryOrdered(ctx, models.ByAuthor(u.ID))
		return Resolved{Posts: posts, Author: &u}, err

	case models.FeedFollowing:
		if viewer.IsAnonymous() {
			return Resolved{}, models.ErrAuthRequired
		}
		ids, err := r.Follows.FollowedAuthorIDs(ctx, viewer.UserID)
		if err != nil {
			return Resolved{}, err
		}
		if len(ids) == 0 {
			return Resolved{Posts: []models.Post{}}, nil
		}
		posts, err := r.Posts.QueryOrdered(ctx, models.ByAuthors(ids))
		return Resolved{Posts: posts}, err
	}
	return Resolved{}, errors.New("feed: unknown feed kind " + string(kind.Type))
}

func (r *Resolver) user(ctx context.Context, username string) (models.User, error) {
	id, err := r.Directory.GetUserIDByUsername(ctx, username)
	if err != nil {
		return models.User{}, err
	}
	if id == "" {
		return models.User{}, models.ErrNotFound
	}
	return models.User{ID: id, Username: username}, nil
}
