package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	config "example.com/postfeed/internal/init"
	"example.com/postfeed/internal/models"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// PostgresStore relies on foreign keys for the comment cascade and on a
// composite primary key plus a check constraint for follow edges.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgres connects a pool and applies migrations.
func NewPostgres(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	if err := runPostgresMigrations(cfg); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	pcfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.PostgresMaxConns > 0 {
		pcfg.MaxConns = int32(cfg.PostgresMaxConns)
	}
	pcfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logg.Info("store", "Connected to Postgres (dsn anonymized)")
	return &PostgresStore{Pool: pool}, nil
}

func runPostgresMigrations(cfg *config.Config) error {
	sourceURL := fmt.Sprintf("file://%s", filepath.Join(cfg.MigrationsDir, "postgres"))
	return applyMigrations(sourceURL, migrateDSN(cfg.PostgresDSN))
}

// migrateDSN rewrites a postgres:// DSN to the scheme of the pgx/v5 migrate driver.
func migrateDSN(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

func (s *PostgresStore) Close() {
	if s.Pool != nil {
		s.Pool.Close()
		logg.Info("store", "Postgres pool closed")
	}
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// --- Directory ---

func (s *PostgresStore) CreateUser(ctx context.Context, username string) (string, error) {
	if _, err := s.Pool.Exec(ctx,
		`INSERT INTO users (id, username) VALUES ($1, $2) ON CONFLICT (username) DO NOTHING`,
		uuid.NewString(), username,
	); err != nil {
		logg.Error("store", "Failed to create user", err)
		return "", err
	}
	return s.GetUserIDByUsername(ctx, username)
}

func (s *PostgresStore) GetUserIDByUsername(ctx context.Context, username string) (string, error) {
	var id string
	err := s.Pool.QueryRow(ctx, `SELECT id FROM users WHERE username = $1`, username).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		logg.Error("store", "Failed to query user by username", err)
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (models.User, error) {
	u := models.User{ID: userID}
	err := s.Pool.QueryRow(ctx, `SELECT username FROM users WHERE id = $1`, userID).Scan(&u.Username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, models.ErrNotFound
		}
		return models.User{}, err
	}
	return u, nil
}

func (s *PostgresStore) CreateGroup(ctx context.Context, g models.Group) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO groups (slug, title, description) VALUES ($1, $2, $3)`,
		g.Slug, g.Title, g.Description,
	)
	if pgCode(err) == pgUniqueViolation {
		return models.Invalid("slug", "is already taken")
	}
	if err != nil {
		logg.Error("store", "Failed to create group", err)
	}
	return err
}

func (s *PostgresStore) GetGroup(ctx context.Context, slug string) (models.Group, error) {
	g := models.Group{Slug: slug}
	err := s.Pool.QueryRow(ctx, `SELECT title, description FROM groups WHERE slug = $1`, slug).
		Scan(&g.Title, &g.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Group{}, models.ErrNotFound
		}
		return models.Group{}, err
	}
	return g, nil
}

// --- Posts ---

const pgPostSelect = `SELECT p.id, p.author_id, u.username, p.body, p.group_slug, p.image, p.created_at
	FROM posts p JOIN users u ON u.id = p.author_id`

// pgFeedOrder is shared by every filter.
const pgFeedOrder = ` ORDER BY p.created_at DESC, p.id DESC`

func scanPgPost(row pgx.Row) (models.Post, error) {
	var p models.Post
	err := row.Scan(&p.ID, &p.AuthorID, &p.Author, &p.Text, &p.Group, &p.Image, &p.Created)
	return p, err
}

func (s *PostgresStore) CreatePost(ctx context.Context, in models.NewPost) (models.Post, error) {
	if err := checkNewPost(in); err != nil {
		return models.Post{}, err
	}
	var id int64
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO posts (author_id, body, group_slug, image)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		in.AuthorID, in.Text, in.Group, in.Image,
	).Scan(&id)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return models.Post{}, models.Invalid("group", "or author does not exist")
		}
		logg.Error("store", "Failed to add post", err)
		return models.Post{}, err
	}
	logg.Info("store", "Post added to posts table (post content anonymized)")
	return s.GetPost(ctx, id)
}

func (s *PostgresStore) GetPost(ctx context.Context, id int64) (models.Post, error) {
	p, err := scanPgPost(s.Pool.QueryRow(ctx, pgPostSelect+` WHERE p.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Post{}, models.ErrNotFound
		}
		return models.Post{}, err
	}
	return p, nil
}

func (s *PostgresStore) UpdatePost(ctx context.Context, id int64, u models.PostUpdate) (models.Post, error) {
	var out models.Post
	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		// Row lock serializes concurrent updates of the same post.
		cur, err := scanPgPost(tx.QueryRow(ctx, pgPostSelect+` WHERE p.id = $1 FOR UPDATE OF p`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrNotFound
			}
			return err
		}
		if u.Text != nil {
			if *u.Text == "" {
				return models.Invalid("text", "is required")
			}
			cur.Text = *u.Text
		}
		if u.Group != nil {
			if *u.Group == "" {
				cur.Group = nil
			} else {
				cur.Group = copySlug(u.Group)
			}
		}
		if u.Image != nil {
			cur.Image = *u.Image
		}
		if _, err := tx.Exec(ctx,
			`UPDATE posts SET body = $1, group_slug = $2, image = $3 WHERE id = $4`,
			cur.Text, cur.Group, cur.Image, id,
		); err != nil {
			if pgCode(err) == pgForeignKeyViolation {
				return models.Invalid("group", "does not exist")
			}
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) && !errors.Is(err, models.ErrValidation) {
			logg.Error("store", "Failed to update post", err)
		}
		return models.Post{}, err
	}
	logg.Info("store", "Post updated (post content anonymized)")
	return out, nil
}

// DeletePost relies on ON DELETE CASCADE for comments.
func (s *PostgresStore) DeletePost(ctx context.Context, id int64) error {
	if _, err := s.Pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id); err != nil {
		logg.Error("store", "Failed to delete post", err)
		return err
	}
	return nil
}

func pgFilter(f models.PostFilter) (string, []any) {
	switch f.Kind {
	case models.FilterGroup:
		return ` WHERE p.group_slug = $1`, []any{f.Group}
	case models.FilterAuthor:
		return ` WHERE p.author_id = $1`, []any{f.AuthorID}
	case models.FilterAuthors:
		return ` WHERE p.author_id = ANY($1)`, []any{f.AuthorIDs}
	}
	return "", nil
}

func (s *PostgresStore) QueryOrdered(ctx context.Context, f models.PostFilter) ([]models.Post, error) {
	if f.Kind == models.FilterAuthors && len(f.AuthorIDs) == 0 {
		return []models.Post{}, nil
	}
	where, args := pgFilter(f)
	rows, err := s.Pool.Query(ctx, pgPostSelect+where+pgFeedOrder, args...)
	if err != nil {
		logg.Error("store", "Failed to query posts", err)
		return nil, err
	}
	defer rows.Close()

	res := []models.Post{}
	for rows.Next() {
		p, err := scanPgPost(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		logg.Error("store", "Failed to read posts", err)
		return nil, err
	}
	return res, nil
}

// --- Follows ---

func (s *PostgresStore) Follow(ctx context.Context, followerID, authorID string) error {
	if followerID == authorID {
		return models.ErrSelfFollow
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO follows (follower_id, author_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		followerID, authorID,
	)
	if pgCode(err) == pgCheckViolation {
		return models.ErrSelfFollow
	}
	if err != nil {
		logg.Error("store", "Failed to create follow relationship", err)
	}
	return err
}

func (s *PostgresStore) Unfollow(ctx context.Context, followerID, authorID string) error {
	_, err := s.Pool.Exec(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND author_id = $2`,
		followerID, authorID,
	)
	return err
}

func (s *PostgresStore) FollowedAuthorIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT author_id FROM follows WHERE follower_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *PostgresStore) IsFollowing(ctx context.Context, followerID, authorID string) (bool, error) {
	var ok bool
	err := s.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM follows WHERE follower_id = $1 AND author_id = $2)`,
		followerID, authorID,
	).Scan(&ok)
	return ok, err
}

// --- Comments ---

func (s *PostgresStore) AddComment(ctx context.Context, c models.Comment) (models.Comment, error) {
	if c.Text == "" {
		return models.Comment{}, models.Invalid("text", "is required")
	}
	c.ID = uuid.NewString()
	err := s.Pool.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO comments (id, post_id, author_id, body)
			VALUES ($1, $2, $3, $4) RETURNING created_at, author_id
		)
		SELECT ins.created_at, u.username FROM ins JOIN users u ON u.id = ins.author_id`,
		c.ID, c.PostID, c.AuthorID, c.Text,
	).Scan(&c.Created, &c.Author)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return models.Comment{}, models.ErrNotFound
		}
		logg.Error("store", "Failed to add comment", err)
		return models.Comment{}, err
	}
	return c, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, postID int64) ([]models.Comment, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT c.id, c.author_id, u.username, c.body, c.created_at
		FROM comments c JOIN users u ON u.id = c.author_id
		WHERE c.post_id = $1
		ORDER BY c.created_at DESC, c.id DESC`,
		postID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []models.Comment{}
	for rows.Next() {
		c := models.Comment{PostID: postID}
		if err := rows.Scan(&c.ID, &c.AuthorID, &c.Author, &c.Text, &c.Created); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
