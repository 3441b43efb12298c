package models

import "fmt"

// FilterKind selects which posts an ordered query returns.
type FilterKind int

const (
	FilterAll FilterKind = iota
	FilterGroup
	FilterAuthor
	FilterAuthors
)

// PostFilter is the single argument of the ordered post query.
type PostFilter struct {
	Kind      FilterKind
	Group     string
	AuthorID  string
	AuthorIDs []string
}

func AllPosts() PostFilter { return PostFilter{Kind: FilterAll} }

func ByGroup(slug string) PostFilter { return PostFilter{Kind: FilterGroup, Group: slug} }

func ByAuthor(authorID string) PostFilter { return PostFilter{Kind: FilterAuthor, AuthorID: authorID} }

func ByAuthors(ids []string) PostFilter { return PostFilter{Kind: FilterAuthors, AuthorIDs: ids} }

// Match reports whether p passes the filter. Used by backends that filter in process.
func (f PostFilter) Match(p Post) bool {
	switch f.Kind {
	case FilterAll:
		return true
	case FilterGroup:
		return p.Group != nil && *p.Group == f.Group
	case FilterAuthor:
		return p.AuthorID == f.AuthorID
	case FilterAuthors:
		for _, id := range f.AuthorIDs {
			if p.AuthorID == id {
				return true
			}
		}
	}
	return false
}

type FeedType string

const (
	FeedGlobal    FeedType = "global"
	FeedGroup     FeedType = "group"
	FeedProfile   FeedType = "profile"
	FeedFollowing FeedType = "following"
)

// FeedKind names a feed: the global one, a group by slug, a profile by
// username, or the viewer's personalized following feed.
type FeedKind struct {
	Type     FeedType
	Slug     string
	Username string
}

func GlobalFeed() FeedKind { return FeedKind{Type: FeedGlobal} }

func GroupFeed(slug string) FeedKind { return FeedKind{Type: FeedGroup, Slug: slug} }

func ProfileFeed(username string) FeedKind { return FeedKind{Type: FeedProfile, Username: username} }

func FollowingFeed() FeedKind { return FeedKind{Type: FeedFollowing} }

func (k FeedKind) String() string {
	switch k.Type {
	case FeedGroup:
		return fmt.Sprintf("group(%s)", k.Slug)
	case FeedProfile:
		return fmt.Sprintf("profile(%s)", k.Username)
	}
	return string(k.Type)
}

// Page is one slice of an ordered post sequence.
type Page struct {
	Items      []Post `json:"items"`
	Number     int    `json:"number"`
	TotalPages int    `json:"total_pages"`
	Count      int    `json:"count"`
	HasNext    bool   `json:"has_next"`
	HasPrev    bool   `json:"has_prev"`
}

// FeedView is a resolved and paginated feed with the metadata its renderer needs.
type FeedView struct {
	Kind      FeedType `json:"kind"`
	Group     *Group   `json:"group,omitempty"`
	Author    *User    `json:"author,omitempty"`
	Following *bool    `json:"following,omitempty"`
	Page      Page     `json:"page"`
}

// PostDetail is a single post with its comments, newest first.
type PostDetail struct {
	Post     Post      `json:"post"`
	Comments []Comment `json:"comments"`
}
