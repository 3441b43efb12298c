package models

import (
	"sort"
	"time"
)

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Group is a topical bucket for posts. Slug is unique and never changes.
type Group struct {
	Title       string `json:"title" validate:"required,max=200"`
	Slug        string `json:"slug" validate:"required,max=50,slug"`
	Description string `json:"description" validate:"required"`
}

type Post struct {
	ID       int64     `json:"id"`
	AuthorID string    `json:"author_id"`
	Author   string    `json:"author"`
	Text     string    `json:"text"`
	Group    *string   `json:"group,omitempty"`
	Image    string    `json:"image,omitempty"`
	Created  time.Time `json:"created"`
}

// GroupSlug returns the post's group slug or "" when it has none.
func (p Post) GroupSlug() string {
	if p.Group == nil {
		return ""
	}
	return *p.Group
}

// NewPost is the input of a post creation.
type NewPost struct {
	AuthorID string  `json:"-" validate:"required"`
	Text     string  `json:"text" validate:"required"`
	Group    *string `json:"group,omitempty" validate:"omitempty,slug"`
	Image    string  `json:"image,omitempty" validate:"omitempty,max=255"`
}

// PostUpdate carries the mutable fields of a post. Nil fields are left untouched;
// an empty Group string detaches the post from its group.
type PostUpdate struct {
	Text  *string `json:"text,omitempty" validate:"omitempty,min=1"`
	Group *string `json:"group,omitempty" validate:"omitempty,slug"`
	Image *string `json:"image,omitempty" validate:"omitempty,max=255"`
}

type Comment struct {
	ID       string    `json:"id"`
	PostID   int64     `json:"post_id"`
	AuthorID string    `json:"author_id"`
	Author   string    `json:"author"`
	Text     string    `json:"text"`
	Created  time.Time `json:"created"`
}

type Follow struct {
	UserID   string `json:"user_id"`
	AuthorID string `json:"author_id"`
}

// Viewer is the identity a request runs as. The zero value is anonymous.
type Viewer struct {
	UserID string
}

func Anonymous() Viewer { return Viewer{} }

func (v Viewer) IsAnonymous() bool { return v.UserID == "" }

// Newer reports whether a sorts before b in feed order:
// creation time descending, ties broken by descending id.
func Newer(a, b Post) bool {
	if !a.Created.Equal(b.Created) {
		return a.Created.After(b.Created)
	}
	return a.ID > b.ID
}

// SortNewestFirst orders posts in place using Newer. Every backend that
// cannot push the ordering into its query engine goes through here.
func SortNewestFirst(posts []Post) {
	sort.SliceStable(posts, func(i, j int) bool { return Newer(posts[i], posts[j]) })
}

// SortComments orders comments newest first, ties broken by id.
func SortComments(comments []Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		a, b := comments[i], comments[j]
		if !a.Created.Equal(b.Created) {
			return a.Created.After(b.Created)
		}
		return a.ID > b.ID
	})
}
