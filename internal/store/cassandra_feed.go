package store

import (
	"context"
	"errors"
	"time"

	"example.com/postfeed/internal/models"
	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

const (
	// timelineBucket is the single partition of posts_timeline.
	timelineBucket = 0
	postsSequence  = "posts"
	maxSeqAttempts = 16
	inChunk        = 100
)

var errSequenceContention = errors.New("store: post id sequence contention")

// --- User operations ---

// GetUserIDByUsername returns the existing user_id by username.
// If the user does not exist, it returns empty string without an error.
func (s *CassandraStore) GetUserIDByUsername(ctx context.Context, username string) (string, error) {
	var id string
	err := s.Session.Query(
		`SELECT user_id FROM users_by_username WHERE username = ?`,
		username,
	).WithContext(ctx).Scan(&id)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return "", nil
		}
		logg.Error("store", "Failed to query user by username", err)
		return "", err
	}
	return id, nil
}

// CreateUser creates a new user if the username does not exist.
// Returns the existing user_id if username already exists.
func (s *CassandraStore) CreateUser(ctx context.Context, username string) (string, error) {
	existingID, err := s.GetUserIDByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if existingID != "" {
		return existingID, nil
	}

	id := gocql.TimeUUID().String()

	// Insert into users_by_username table using CAS
	applied, err := s.Session.Query(`
		INSERT INTO users_by_username (username, user_id)
		VALUES (?, ?) IF NOT EXISTS`,
		username, id,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		logg.Error("store", "Failed to create username entry", err)
		return "", err
	}

	if !applied {
		// Another process already created this user
		return s.GetUserIDByUsername(ctx, username)
	}

	err = s.Session.Query(`
		INSERT INTO users (user_id, username)
		VALUES (?, ?)`,
		id, username,
	).WithContext(ctx).Exec()
	if err != nil {
		logg.Error("store", "Failed to create user in main table", err)
		return "", err
	}

	logg.Info("store", "User created successfully (username anonymized)")
	return id, nil
}

func (s *CassandraStore) GetUser(ctx context.Context, userID string) (models.User, error) {
	u := models.User{ID: userID}
	err := s.Session.Query(`SELECT username FROM users WHERE user_id = ?`, userID).
		WithContext(ctx).Scan(&u.Username)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return models.User{}, models.ErrNotFound
		}
		logg.Error("store", "Failed to query user", err)
		return models.User{}, err
	}
	return u, nil
}

// --- Group operations ---

func (s *CassandraStore) CreateGroup(ctx context.Context, g models.Group) error {
	applied, err := s.Session.Query(`
		INSERT INTO groups_by_slug (slug, title, description)
		VALUES (?, ?, ?) IF NOT EXISTS`,
		g.Slug, g.Title, g.Description,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		logg.Error("store", "Failed to create group", err)
		return err
	}
	if !applied {
		return models.Invalid("slug", "is already taken")
	}
	logg.Info("store", "Group created: "+g.Slug)
	return nil
}

func (s *CassandraStore) GetGroup(ctx context.Context, slug string) (models.Group, error) {
	g := models.Group{Slug: slug}
	err := s.Session.Query(`SELECT title, description FROM groups_by_slug WHERE slug = ?`, slug).
		WithContext(ctx).Scan(&g.Title, &g.Description)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return models.Group{}, models.ErrNotFound
		}
		logg.Error("store", "Failed to query group", err)
		return models.Group{}, err
	}
	return g, nil
}

// --- Post operations ---

// nextPostID allocates the next post id with a compare-and-set on the sequences table.
func (s *CassandraStore) nextPostID(ctx context.Context) (int64, error) {
	for attempt := 0; attempt < maxSeqAttempts; attempt++ {
		var cur int64
		err := s.Session.Query(`SELECT value FROM sequences WHERE name = ?`, postsSequence).
			WithContext(ctx).Scan(&cur)
		if errors.Is(err, gocql.ErrNotFound) {
			applied, err := s.Session.Query(
				`INSERT INTO sequences (name, value) VALUES (?, 1) IF NOT EXISTS`, postsSequence,
			).WithContext(ctx).MapScanCAS(map[string]interface{}{})
			if err != nil {
				return 0, err
			}
			if applied {
				return 1, nil
			}
			continue
		}
		if err != nil {
			return 0, err
		}

		applied, err := s.Session.Query(
			`UPDATE sequences SET value = ? WHERE name = ? IF value = ?`, cur+1, postsSequence, cur,
		).WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return 0, err
		}
		if applied {
			return cur + 1, nil
		}
	}
	return 0, errSequenceContention
}

func (s *CassandraStore) CreatePost(ctx context.Context, in models.NewPost) (models.Post, error) {
	if err := checkNewPost(in); err != nil {
		return models.Post{}, err
	}
	author, err := s.GetUser(ctx, in.AuthorID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Post{}, models.Invalid("author", "does not exist")
		}
		return models.Post{}, err
	}

	id, err := s.nextPostID(ctx)
	if err != nil {
		logg.Error("store", "Failed to allocate post id", err)
		return models.Post{}, err
	}

	// Cassandra timestamps carry millisecond precision.
	p := models.Post{
		ID:       id,
		AuthorID: in.AuthorID,
		Author:   author.Username,
		Text:     in.Text,
		Group:    copySlug(in.Group),
		Image:    in.Image,
		Created:  time.Now().UTC().Truncate(time.Millisecond),
	}

	batch := s.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`
		INSERT INTO posts (post_id, author_id, author, body, group_slug, image, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AuthorID, p.Author, p.Text, p.GroupSlug(), p.Image, p.Created)
	batch.Query(`INSERT INTO posts_timeline (bucket, created_at, post_id) VALUES (?, ?, ?)`,
		timelineBucket, p.Created, p.ID)
	batch.Query(`INSERT INTO posts_by_author (author_id, created_at, post_id) VALUES (?, ?, ?)`,
		p.AuthorID, p.Created, p.ID)
	if p.Group != nil {
		batch.Query(`INSERT INTO posts_by_group (group_slug, created_at, post_id) VALUES (?, ?, ?)`,
			*p.Group, p.Created, p.ID)
	}

	if err := s.Session.ExecuteBatch(batch); err != nil {
		logg.Error("store", "Failed to add post", err)
		return models.Post{}, err
	}

	logg.Info("store", "Post added to posts table (post content anonymized)")
	return p, nil
}

const postSelect = `SELECT post_id, author_id, author, body, group_slug, image, created_at FROM posts`

func scanPost(scan func(dest ...interface{}) bool) (models.Post, bool) {
	var p models.Post
	var group string
	if !scan(&p.ID, &p.AuthorID, &p.Author, &p.Text, &group, &p.Image, &p.Created) {
		return models.Post{}, false
	}
	if group != "" {
		p.Group = &group
	}
	return p, true
}

func (s *CassandraStore) GetPost(ctx context.Context, id int64) (models.Post, error) {
	var scanErr error
	p, _ := scanPost(func(dest ...interface{}) bool {
		scanErr = s.Session.Query(postSelect+` WHERE post_id = ?`, id).WithContext(ctx).Scan(dest...)
		return scanErr == nil
	})
	if scanErr != nil {
		if errors.Is(scanErr, gocql.ErrNotFound) {
			return models.Post{}, models.ErrNotFound
		}
		logg.Error("store", "Failed to query post", scanErr)
		return models.Post{}, scanErr
	}
	return p, nil
}

func (s *CassandraStore) UpdatePost(ctx context.Context, id int64, u models.PostUpdate) (models.Post, error) {
	cur, err := s.GetPost(ctx, id)
	if err != nil {
		return models.Post{}, err
	}

	next := cur
	if u.Text != nil {
		if *u.Text == "" {
			return models.Post{}, models.Invalid("text", "is required")
		}
		next.Text = *u.Text
	}
	if u.Group != nil {
		if *u.Group == "" {
			next.Group = nil
		} else {
			if _, err := s.GetGroup(ctx, *u.Group); err != nil {
				if errors.Is(err, models.ErrNotFound) {
					return models.Post{}, models.Invalid("group", "does not exist")
				}
				return models.Post{}, err
			}
			next.Group = copySlug(u.Group)
		}
	}
	if u.Image != nil {
		next.Image = *u.Image
	}

	// The conditional update serializes concurrent writers of the same post.
	applied, err := s.Session.Query(`
		UPDATE posts SET body = ?, group_slug = ?, image = ?
		WHERE post_id = ? IF EXISTS`,
		next.Text, next.GroupSlug(), next.Image, id,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		logg.Error("store", "Failed to update post", err)
		return models.Post{}, err
	}
	if !applied {
		return models.Post{}, models.ErrNotFound
	}

	if cur.GroupSlug() != next.GroupSlug() {
		batch := s.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
		if cur.Group != nil {
			batch.Query(`DELETE FROM posts_by_group WHERE group_slug = ? AND created_at = ? AND post_id = ?`,
				*cur.Group, cur.Created, id)
		}
		if next.Group != nil {
			batch.Query(`INSERT INTO posts_by_group (group_slug, created_at, post_id) VALUES (?, ?, ?)`,
				*next.Group, cur.Created, id)
		}
		if err := s.Session.ExecuteBatch(batch); err != nil {
			logg.Error("store", "Failed to move post between groups", err)
			return models.Post{}, err
		}
	}

	logg.Info("store", "Post updated (post content anonymized)")
	return next, nil
}

func (s *CassandraStore) DeletePost(ctx context.Context, id int64) error {
	p, err := s.GetPost(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}

	batch := s.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`DELETE FROM posts WHERE post_id = ?`, id)
	batch.Query(`DELETE FROM posts_timeline WHERE bucket = ? AND created_at = ? AND post_id = ?`,
		timelineBucket, p.Created, id)
	batch.Query(`DELETE FROM posts_by_author WHERE author_id = ? AND created_at = ? AND post_id = ?`,
		p.AuthorID, p.Created, id)
	if p.Group != nil {
		batch.Query(`DELETE FROM posts_by_group WHERE group_slug = ? AND created_at = ? AND post_id = ?`,
			*p.Group, p.Created, id)
	}
	batch.Query(`DELETE FROM comments_by_post WHERE post_id = ?`, id)

	if err := s.Session.ExecuteBatch(batch); err != nil {
		logg.Error("store", "Failed to delete post", err)
		return err
	}
	logg.Info("store", "Post and its comments deleted")
	return nil
}

// QueryOrdered reads post ids from the index table matching the filter and
// loads the rows. Ordering is applied once with models.SortNewestFirst.
func (s *CassandraStore) QueryOrdered(ctx context.Context, f models.PostFilter) ([]models.Post, error) {
	var ids []int64
	var err error

	switch f.Kind {
	case models.FilterAll:
		ids, err = s.indexIDs(ctx, `SELECT post_id FROM posts_timeline WHERE bucket = ?`, timelineBucket)
	case models.FilterGroup:
		ids, err = s.indexIDs(ctx, `SELECT post_id FROM posts_by_group WHERE group_slug = ?`, f.Group)
	case models.FilterAuthor:
		ids, err = s.indexIDs(ctx, `SELECT post_id FROM posts_by_author WHERE author_id = ?`, f.AuthorID)
	case models.FilterAuthors:
		for _, author := range f.AuthorIDs {
			var part []int64
			part, err = s.indexIDs(ctx, `SELECT post_id FROM posts_by_author WHERE author_id = ?`, author)
			if err != nil {
				break
			}
			ids = append(ids, part...)
		}
	}
	if err != nil {
		logg.Error("store", "Failed to read post index", err)
		return nil, err
	}

	posts, err := s.loadPosts(ctx, ids)
	if err != nil {
		return nil, err
	}
	models.SortNewestFirst(posts)
	return posts, nil
}

func (s *CassandraStore) indexIDs(ctx context.Context, stmt string, key interface{}) ([]int64, error) {
	iter := s.Session.Query(stmt, key).WithContext(ctx).Iter()
	var id int64
	var res []int64
	for iter.Scan(&id) {
		res = append(res, id)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *CassandraStore) loadPosts(ctx context.Context, ids []int64) ([]models.Post, error) {
	res := make([]models.Post, 0, len(ids))
	for start := 0; start < len(ids); start += inChunk {
		end := start + inChunk
		if end > len(ids) {
			end = len(ids)
		}
		iter := s.Session.Query(postSelect+` WHERE post_id IN ?`, ids[start:end]).WithContext(ctx).Iter()
		for {
			p, ok := scanPost(iter.Scan)
			if !ok {
				break
			}
			res = append(res, p)
		}
		if err := iter.Close(); err != nil {
			logg.Error("store", "Failed to load posts", err)
			return nil, err
		}
	}
	return res, nil
}

// --- Follow operations ---

func (s *CassandraStore) Follow(ctx context.Context, followerID, authorID string) error {
	if followerID == authorID {
		return models.ErrSelfFollow
	}
	// IF NOT EXISTS keeps the edge unique; an existing edge is not an error.
	if _, err := s.Session.Query(
		`INSERT INTO follows (user_id, followee_id) VALUES (?, ?) IF NOT EXISTS`,
		followerID, authorID,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{}); err != nil {
		logg.Error("store", "Failed to create follow relationship", err)
		return err
	}

	logg.Info("store", "Follow relationship created (user IDs anonymized)")
	return nil
}

func (s *CassandraStore) Unfollow(ctx context.Context, followerID, authorID string) error {
	if err := s.Session.Query(
		`DELETE FROM follows WHERE user_id = ? AND followee_id = ?`,
		followerID, authorID,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to delete follow relationship", err)
		return err
	}
	return nil
}

func (s *CassandraStore) FollowedAuthorIDs(ctx context.Context, userID string) ([]string, error) {
	iter := s.Session.Query(
		`SELECT followee_id FROM follows WHERE user_id = ?`,
		userID,
	).WithContext(ctx).Iter()

	var id string
	res := []string{}
	for iter.Scan(&id) {
		res = append(res, id)
	}

	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to get followed authors", err)
		return nil, err
	}
	return res, nil
}

func (s *CassandraStore) IsFollowing(ctx context.Context, followerID, authorID string) (bool, error) {
	var id string
	err := s.Session.Query(
		`SELECT followee_id FROM follows WHERE user_id = ? AND followee_id = ?`,
		followerID, authorID,
	).WithContext(ctx).Scan(&id)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return false, nil
		}
		logg.Error("store", "Failed to check follow relationship", err)
		return false, err
	}
	return true, nil
}

// --- Comment operations ---

func (s *CassandraStore) AddComment(ctx context.Context, c models.Comment) (models.Comment, error) {
	if c.Text == "" {
		return models.Comment{}, models.Invalid("text", "is required")
	}
	author, err := s.GetUser(ctx, c.AuthorID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Comment{}, models.Invalid("author", "does not exist")
		}
		return models.Comment{}, err
	}
	c.ID = uuid.NewString()
	c.Author = author.Username
	c.Created = time.Now().UTC().Truncate(time.Millisecond)

	if err := s.Session.Query(`
		INSERT INTO comments_by_post (post_id, created_at, comment_id, author_id, author, body)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.PostID, c.Created, c.ID, c.AuthorID, c.Author, c.Text,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to add comment", err)
		return models.Comment{}, err
	}
	return c, nil
}

func (s *CassandraStore) ListComments(ctx context.Context, postID int64) ([]models.Comment, error) {
	iter := s.Session.Query(`
		SELECT comment_id, author_id, author, body, created_at
		FROM comments_by_post WHERE post_id = ?`,
		postID,
	).WithContext(ctx).Iter()

	res := []models.Comment{}
	c := models.Comment{PostID: postID}
	for iter.Scan(&c.ID, &c.AuthorID, &c.Author, &c.Text, &c.Created) {
		res = append(res, c)
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to list comments", err)
		return nil, err
	}
	models.SortComments(res)
	return res, nil
}
