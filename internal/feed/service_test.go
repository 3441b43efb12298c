package feed

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	appkafka "example.com/postfeed/internal/broker"
	"example.com/postfeed/internal/cache"
	"example.com/postfeed/internal/models"
	"example.com/postfeed/internal/render"
	"example.com/postfeed/internal/store"
)

//
// --- Helpers ---
//

type fixture struct {
	ctx     context.Context
	store   *store.MemoryStore
	svc     *Service
	renders int
	alice   models.Viewer
	bob     models.Viewer
	carol   models.Viewer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), store: store.NewMemory()}

	counting := func(v models.FeedView) ([]byte, error) {
		f.renders++
		return render.JSON(v)
	}
	opts = append([]Option{WithRenderer(counting)}, opts...)
	f.svc = New(f.store, cache.New(nil), opts...)

	for _, name := range []string{"alice", "bob", "carol"} {
		id, err := f.svc.RegisterUser(f.ctx, name)
		if err != nil {
			t.Fatalf("RegisterUser(%s) failed: %v", name, err)
		}
		v := models.Viewer{UserID: id}
		switch name {
		case "alice":
			f.alice = v
		case "bob":
			f.bob = v
		case "carol":
			f.carol = v
		}
	}
	if _, err := f.svc.CreateGroup(f.ctx, f.alice, models.Group{Title: "Go", Slug: "go", Description: "gophers"}); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	return f
}

func (f *fixture) post(t *testing.T, v models.Viewer, text string, group *string) models.Post {
	t.Helper()
	p, err := f.svc.CreatePost(f.ctx, v, models.NewPost{Text: text, Group: group})
	if err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}
	return p
}

func strPtr(s string) *string { return &s }

//
// --- Cache behaviour ---
//

func TestRenderFeed_CacheStability(t *testing.T) {
	f := newFixture(t)
	f.post(t, f.alice, "hello", nil)

	first, err := f.svc.RenderFeed(f.ctx, models.Anonymous(), models.GlobalFeed(), 1)
	if err != nil {
		t.Fatalf("RenderFeed failed: %v", err)
	}
	second, err := f.svc.RenderFeed(f.ctx, f.bob, models.GlobalFeed(), 0)
	if err != nil {
		t.Fatalf("RenderFeed failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("second render must be byte-identical")
	}
	if f.renders != 1 {
		t.Fatalf("expected one render, got %d", f.renders)
	}
}

func TestRenderFeed_CacheInvalidatedByEdit(t *testing.T) {
	f := newFixture(t)
	p := f.post(t, f.alice, "first draft", nil)

	before, _ := f.svc.RenderFeed(f.ctx, models.Anonymous(), models.GlobalFeed(), 1)
	if _, err := f.svc.UpdatePost(f.ctx, f.alice, p.ID, models.PostUpdate{Text: strPtr("edited text")}); err != nil {
		t.Fatalf("UpdatePost failed: %v", err)
	}
	after, _ := f.svc.RenderFeed(f.ctx, models.Anonymous(), models.GlobalFeed(), 1)

	if bytes.Equal(before, after) {
		t.Fatal("render after edit must differ")
	}
	if !bytes.Contains(after, []byte("edited text")) {
		t.Fatalf("render does not reflect the edit: %s", after)
	}
}

func TestRenderFeed_CacheInvalidatedByCreateAndDelete(t *testing.T) {
	f := newFixture(t)
	p := f.post(t, f.alice, "first", nil)
	f.svc.RenderFeed(f.ctx, models.Anonymous(), models.GlobalFeed(), 1)

	f.post(t, f.bob, "second", nil)
	body, _ := f.svc.RenderFeed(f.ctx, models.Anonymous(), models.GlobalFeed(), 1)
	if !bytes.Contains(body, []byte("second")) {
		t.Fatal("new post missing after create")
	}

	if err := f.svc.DeletePost(f.ctx, f.alice, p.ID); err != nil {
		t.Fatalf("DeletePost failed: %v", err)
	}
	body, _ = f.svc.RenderFeed(f.ctx, models.Anonymous(), models.GlobalFeed(), 1)
	if bytes.Contains(body, []byte(`"first"`)) {
		t.Fatal("deleted post still rendered")
	}
	if f.renders != 3 {
		t.Fatalf("expected three renders, got %d", f.renders)
	}
}

func TestRenderFeed_OnlyGlobalFrontPageIsCached(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 12; i++ {
		f.post(t, f.alice, "p", strPtr("go"))
	}

	f.svc.RenderFeed(f.ctx, models.Anonymous(), models.GlobalFeed(), 2)
	f.svc.RenderFeed(f.ctx, models.Anonymous(), models.GlobalFeed(), 2)
	f.svc.RenderFeed(f.ctx, models.Anonymous(), models.GroupFeed("go"), 1)
	f.svc.RenderFeed(f.ctx, models.Anonymous(), models.GroupFeed("go"), 1)
	if f.renders != 4 {
		t.Fatalf("non-cached views must render every time, got %d renders", f.renders)
	}
	if s := f.svc.Cache().Stats(); s.Hits != 0 {
		t.Fatalf("unexpected cache hits: %+v", s)
	}
}

func TestRenderFeed_CommentsAndFollowsKeepCache(t *testing.T) {
	f := newFixture(t)
	p := f.post(t, f.alice, "post", nil)
	f.svc.RenderFeed(f.ctx, models.Anonymous(), models.GlobalFeed(), 1)

	if _, err := f.svc.AddComment(f.ctx, f.bob, p.ID, "nice"); err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}
	if err := f.svc.Follow(f.ctx, f.bob, "alice"); err != nil {
		t.Fatalf("Follow failed: %v", err)
	}
	f.svc.RenderFeed(f.ctx, models.Anonymous(), models.GlobalFeed(), 1)
	if f.renders != 1 {
		t.Fatalf("comments and follows must not invalidate, got %d renders", f.renders)
	}
}

func TestRenderFeed_FailedValidationKeepsCache(t *testing.T) {
	f := newFixture(t)
	f.post(t, f.alice, "post", nil)
	f.svc.RenderFeed(f.ctx, models.Anonymous(), models.GlobalFeed(), 1)
	v := f.svc.Cache().Version()

	if _, err := f.svc.CreatePost(f.ctx, f.alice, models.NewPost{Text: "   "}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.svc.Cache().Version() != v {
		t.Fatal("rejected input must not invalidate the cache")
	}
}

//
// --- Feed resolution ---
//

func TestListFeed_Following(t *testing.T) {
	f := newFixture(t)
	f.post(t, f.alice, "a1", nil)
	f.post(t, f.bob, "b1", nil)
	f.post(t, f.alice, "a2", nil)
	f.post(t, f.carol, "c1", nil)

	if err := f.svc.Follow(f.ctx, f.carol, "alice"); err != nil {
		t.Fatalf("Follow failed: %v", err)
	}

	view, err := f.svc.ListFeed(f.ctx, f.carol, models.FollowingFeed(), 1)
	if err != nil {
		t.Fatalf("ListFeed failed: %v", err)
	}
	items := view.Page.Items
	if len(items) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(items))
	}
	for _, p := range items {
		if p.AuthorID != f.alice.UserID {
			t.Fatalf("following feed contains a post by %s", p.Author)
		}
	}
	if !models.Newer(items[0], items[1]) {
		t.Fatal("following feed must use global ordering")
	}
}

func TestListFeed_FollowingEmpty(t *testing.T) {
	f := newFixture(t)
	f.post(t, f.alice, "a1", nil)

	view, err := f.svc.ListFeed(f.ctx, f.bob, models.FollowingFeed(), 1)
	if err != nil {
		t.Fatalf("empty follow set must not be an error: %v", err)
	}
	if len(view.Page.Items) != 0 || view.Page.Number != 1 || view.Page.TotalPages != 1 {
		t.Fatalf("expected empty page 1 of 1, got %+v", view.Page)
	}
}

func TestListFeed_FollowingRequiresAuth(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.ListFeed(f.ctx, models.Anonymous(), models.FollowingFeed(), 1); !errors.Is(err, models.ErrAuthRequired) {
		t.Fatalf("expected auth required, got %v", err)
	}
}

func TestListFeed_GroupAndProfile(t *testing.T) {
	f := newFixture(t)
	f.post(t, f.alice, "in group", strPtr("go"))
	f.post(t, f.bob, "no group", nil)

	view, err := f.svc.ListFeed(f.ctx, models.Anonymous(), models.GroupFeed("go"), 1)
	if err != nil {
		t.Fatalf("group feed failed: %v", err)
	}
	if len(view.Page.Items) != 1 || view.Group == nil || view.Group.Title != "Go" {
		t.Fatalf("unexpected group view: %+v", view)
	}

	view, err = f.svc.ListFeed(f.ctx, f.carol, models.ProfileFeed("bob"), 1)
	if err != nil {
		t.Fatalf("profile feed failed: %v", err)
	}
	if len(view.Page.Items) != 1 || view.Author.Username != "bob" {
		t.Fatalf("unexpected profile view: %+v", view)
	}
	if view.Following == nil || *view.Following {
		t.Fatal("expected following=false for carol on bob's profile")
	}

	if _, err := f.svc.ListFeed(f.ctx, models.Anonymous(), models.GroupFeed("missing"), 1); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found for unknown group, got %v", err)
	}
	if _, err := f.svc.ListFeed(f.ctx, models.Anonymous(), models.ProfileFeed("nobody"), 1); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found for unknown profile, got %v", err)
	}
}

func TestListFeed_OrderingWithTies(t *testing.T) {
	f := newFixture(t)
	fixed := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	f.store.Now = func() time.Time { return fixed }

	a := f.post(t, f.alice, "a", nil)
	b := f.post(t, f.bob, "b", nil)

	view, _ := f.svc.ListFeed(f.ctx, models.Anonymous(), models.GlobalFeed(), 1)
	if view.Page.Items[0].ID != b.ID || view.Page.Items[1].ID != a.ID {
		t.Fatal("ties must be broken by descending id")
	}
}

func TestListFeed_PaginationClamp(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 13; i++ {
		f.post(t, f.alice, "p", nil)
	}
	view, _ := f.svc.ListFeed(f.ctx, models.Anonymous(), models.ProfileFeed("alice"), 99)
	if view.Page.Number != 2 || len(view.Page.Items) != 3 || view.Page.TotalPages != 2 {
		t.Fatalf("unexpected clamped page: %+v", view.Page)
	}
}

//
// --- Mutations ---
//

func TestMutations_Authorization(t *testing.T) {
	f := newFixture(t)
	p := f.post(t, f.alice, "mine", nil)

	if _, err := f.svc.CreatePost(f.ctx, models.Anonymous(), models.NewPost{Text: "x"}); !errors.Is(err, models.ErrAuthRequired) {
		t.Fatalf("expected auth required, got %v", err)
	}
	if _, err := f.svc.UpdatePost(f.ctx, f.bob, p.ID, models.PostUpdate{Text: strPtr("hijack")}); !errors.Is(err, models.ErrNotAuthor) {
		t.Fatalf("expected not author, got %v", err)
	}
	if err := f.svc.DeletePost(f.ctx, f.bob, p.ID); !errors.Is(err, models.ErrNotAuthor) {
		t.Fatalf("expected not author, got %v", err)
	}
	if _, err := f.svc.UpdatePost(f.ctx, f.alice, 999, models.PostUpdate{Text: strPtr("x")}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMutations_Validation(t *testing.T) {
	f := newFixture(t)
	p := f.post(t, f.alice, "mine", nil)

	cases := []struct {
		name string
		err  error
	}{
		{"unknown group", func() error {
			_, err := f.svc.CreatePost(f.ctx, f.alice, models.NewPost{Text: "x", Group: strPtr("nope")})
			return err
		}()},
		{"bad slug", func() error {
			_, err := f.svc.CreatePost(f.ctx, f.alice, models.NewPost{Text: "x", Group: strPtr("no spaces")})
			return err
		}()},
		{"blank update", func() error {
			_, err := f.svc.UpdatePost(f.ctx, f.alice, p.ID, models.PostUpdate{Text: strPtr("  ")})
			return err
		}()},
		{"blank comment", func() error {
			_, err := f.svc.AddComment(f.ctx, f.bob, p.ID, " ")
			return err
		}()},
		{"bad username", func() error {
			_, err := f.svc.RegisterUser(f.ctx, "has space")
			return err
		}()},
		{"duplicate group", func() error {
			_, err := f.svc.CreateGroup(f.ctx, f.alice, models.Group{Title: "Go", Slug: "go", Description: "again"})
			return err
		}()},
	}
	for _, c := range cases {
		if !errors.Is(c.err, models.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", c.name, c.err)
		}
	}

	var ve *models.ValidationError
	_, err := f.svc.CreateGroup(f.ctx, f.alice, models.Group{Title: "T", Slug: "", Description: "d"})
	if !errors.As(err, &ve) || ve.Field != "slug" {
		t.Fatalf("expected slug validation error, got %v", err)
	}
}

func TestDeletePost_CascadeAndIdempotent(t *testing.T) {
	f := newFixture(t)
	p := f.post(t, f.alice, "doomed", nil)
	for i := 0; i < 4; i++ {
		if _, err := f.svc.AddComment(f.ctx, f.bob, p.ID, "comment"); err != nil {
			t.Fatalf("AddComment failed: %v", err)
		}
	}
	detail, _ := f.svc.GetPost(f.ctx, p.ID)
	if len(detail.Comments) != 4 {
		t.Fatalf("expected 4 comments, got %d", len(detail.Comments))
	}

	if err := f.svc.DeletePost(f.ctx, f.alice, p.ID); err != nil {
		t.Fatalf("DeletePost failed: %v", err)
	}
	if err := f.svc.DeletePost(f.ctx, f.alice, p.ID); err != nil {
		t.Fatalf("second DeletePost must succeed: %v", err)
	}
	comments, _ := f.store.ListComments(f.ctx, p.ID)
	if len(comments) != 0 {
		t.Fatalf("expected comments cascaded, got %d", len(comments))
	}
	if _, err := f.svc.GetPost(f.ctx, p.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFollow_Rules(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.Follow(f.ctx, f.alice, "alice"); !errors.Is(err, models.ErrSelfFollow) {
		t.Fatalf("expected self follow error, got %v", err)
	}
	if err := f.svc.Follow(f.ctx, models.Anonymous(), "alice"); !errors.Is(err, models.ErrAuthRequired) {
		t.Fatalf("expected auth required, got %v", err)
	}
	if err := f.svc.Follow(f.ctx, f.alice, "ghost"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	f.svc.Follow(f.ctx, f.alice, "bob")
	f.svc.Follow(f.ctx, f.alice, "bob")
	if f.store.EdgeCount() != 1 {
		t.Fatalf("expected one edge, got %d", f.store.EdgeCount())
	}
	ok, _ := f.svc.IsFollowing(f.ctx, f.alice, f.bob.UserID)
	if !ok {
		t.Fatal("expected alice to follow bob")
	}
	if ok, _ := f.svc.IsFollowing(f.ctx, models.Anonymous(), f.bob.UserID); ok {
		t.Fatal("anonymous viewers follow nobody")
	}

	if err := f.svc.Unfollow(f.ctx, f.alice, "bob"); err != nil {
		t.Fatalf("Unfollow failed: %v", err)
	}
	if err := f.svc.Unfollow(f.ctx, f.alice, "bob"); err != nil {
		t.Fatalf("Unfollow of a missing edge must be a no-op: %v", err)
	}
}

//
// --- Events ---
//

func TestMutations_PublishEvents(t *testing.T) {
	mock := &appkafka.MockKafka{}
	f := newFixture(t, WithPublisher(&appkafka.EventPublisher{Writer: mock}, "node-1"))

	p := f.post(t, f.alice, "x", nil)
	f.svc.UpdatePost(f.ctx, f.alice, p.ID, models.PostUpdate{Text: strPtr("y")})
	f.svc.DeletePost(f.ctx, f.alice, p.ID)

	written := mock.Written()
	want := []appkafka.EventType{appkafka.PostCreated, appkafka.PostUpdated, appkafka.PostDeleted}
	if len(written) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(written))
	}
	for i, msg := range written {
		e, err := appkafka.DecodeEvent(msg)
		if err != nil {
			t.Fatalf("DecodeEvent failed: %v", err)
		}
		if e.Type != want[i] || e.PostID != p.ID || e.Origin != "node-1" {
			t.Fatalf("event %d: unexpected %+v", i, e)
		}
	}
}

func TestMutations_PublishFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, WithPublisher(&appkafka.EventPublisher{Writer: &appkafka.MockKafkaFail{}}, "node-1"))
	if _, err := f.svc.CreatePost(f.ctx, f.alice, models.NewPost{Text: "still saved"}); err != nil {
		t.Fatalf("publish failure must not fail the mutation: %v", err)
	}
}

func TestStoreFailure_Propagates(t *testing.T) {
	svc := New(&store.MockStoreFail{}, nil)
	if _, err := svc.RenderFeed(context.Background(), models.Anonymous(), models.GlobalFeed(), 1); !errors.Is(err, store.ErrMockFailure) {
		t.Fatalf("expected store failure, got %v", err)
	}
	if svc.Cache().Stats().Misses != 1 {
		t.Fatal("failed render must not populate the cache")
	}
}
