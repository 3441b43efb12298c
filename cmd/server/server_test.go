package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"example.com/postfeed/internal/cache"
	"example.com/postfeed/internal/feed"
	"example.com/postfeed/internal/middleware"
	"example.com/postfeed/internal/models"
	"example.com/postfeed/internal/store"
)

//
// --- Helpers ---
//

// create HTTP request with an optional JWT token
func sendJSONRequest(t *testing.T, method, url string, body any, token string, expectedStatus int) []byte {
	t.Helper()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal failed: %v", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != expectedStatus {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, url, expectedStatus, resp.StatusCode, string(b))
	}
	return b
}

//
// --- Setup test server ---
//

func setupTestServer(t *testing.T, st store.StoreInterface) *httptest.Server {
	t.Helper()
	svc := feed.New(st, cache.New(nil))
	s := New(svc, middleware.NewAuth("test-secret"))
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return ts
}

// helper: register a user and return its token
func createUserHelper(t *testing.T, ts *httptest.Server, name string) string {
	t.Helper()
	b := sendJSONRequest(t, http.MethodPost, ts.URL+"/users", map[string]any{"username": name}, "", http.StatusOK)

	var res map[string]any
	if err := json.Unmarshal(b, &res); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if id, _ := res["user_id"].(string); id == "" {
		t.Fatalf("expected non-empty user_id")
	}
	token, _ := res["token"].(string)
	if token == "" {
		t.Fatalf("expected non-empty token")
	}
	return token
}

func createPostHelper(t *testing.T, ts *httptest.Server, token, text string) models.Post {
	t.Helper()
	b := sendJSONRequest(t, http.MethodPost, ts.URL+"/posts", map[string]any{"text": text}, token, http.StatusCreated)
	var p models.Post
	if err := json.Unmarshal(b, &p); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return p
}

func decodeView(t *testing.T, b []byte) models.FeedView {
	t.Helper()
	var v models.FeedView
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return v
}

//
// --- Tests ---
//

// registering the same username twice returns the same id
func TestCreateUser(t *testing.T) {
	ts := setupTestServer(t, store.NewMemory())

	first := sendJSONRequest(t, http.MethodPost, ts.URL+"/users", map[string]any{"username": "almaz"}, "", http.StatusOK)
	second := sendJSONRequest(t, http.MethodPost, ts.URL+"/users", map[string]any{"username": "almaz"}, "", http.StatusOK)

	var a, b map[string]any
	json.Unmarshal(first, &a)
	json.Unmarshal(second, &b)
	if a["user_id"] != b["user_id"] {
		t.Fatalf("expected stable user_id, got %v and %v", a["user_id"], b["user_id"])
	}
}

// invalid JSON for creating user
func TestCreateUser_InvalidJSON(t *testing.T) {
	ts := setupTestServer(t, store.NewMemory())

	body := []byte(`{"username":123}`)
	resp, err := http.Post(ts.URL+"/users", "application/json", bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("http.Post failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// full flow: follow -> post -> following feed
func TestFollowAndFeedFlow(t *testing.T) {
	ts := setupTestServer(t, store.NewMemory())

	almaz := createUserHelper(t, ts, "almaz")
	nur := createUserHelper(t, ts, "nur")
	createUserHelper(t, ts, "dana")

	sendJSONRequest(t, http.MethodPost, ts.URL+"/profile/nur/follow", nil, almaz, http.StatusOK)

	createPostHelper(t, ts, nur, "Hello from Nur!")

	b := sendJSONRequest(t, http.MethodGet, ts.URL+"/follow", nil, almaz, http.StatusOK)
	view := decodeView(t, b)
	if len(view.Page.Items) != 1 || view.Page.Items[0].Text != "Hello from Nur!" {
		t.Fatalf("expected Nur's post in following feed, got %+v", view.Page.Items)
	}

	b = sendJSONRequest(t, http.MethodGet, ts.URL+"/profile/nur", nil, almaz, http.StatusOK)
	view = decodeView(t, b)
	if view.Following == nil || !*view.Following {
		t.Fatal("expected following=true on nur's profile")
	}

	sendJSONRequest(t, http.MethodPost, ts.URL+"/profile/nur/unfollow", nil, almaz, http.StatusOK)
	b = sendJSONRequest(t, http.MethodGet, ts.URL+"/follow", nil, almaz, http.StatusOK)
	if view := decodeView(t, b); len(view.Page.Items) != 0 {
		t.Fatalf("expected empty following feed after unfollow, got %d posts", len(view.Page.Items))
	}
}

// the cached front page reflects edits and deletes immediately
func TestIndex_CacheConsistency(t *testing.T) {
	ts := setupTestServer(t, store.NewMemory())
	token := createUserHelper(t, ts, "almaz")

	p := createPostHelper(t, ts, token, "before")
	before := sendJSONRequest(t, http.MethodGet, ts.URL+"/", nil, "", http.StatusOK)
	again := sendJSONRequest(t, http.MethodGet, ts.URL+"/?page=abc", nil, "", http.StatusOK)
	if !bytes.Equal(before, again) {
		t.Fatal("repeated front page requests must be byte-identical")
	}

	url := fmt.Sprintf("%s/posts/%d", ts.URL, p.ID)
	sendJSONRequest(t, http.MethodPatch, url, map[string]any{"text": "after"}, token, http.StatusOK)

	after := sendJSONRequest(t, http.MethodGet, ts.URL+"/", nil, "", http.StatusOK)
	if view := decodeView(t, after); view.Page.Items[0].Text != "after" {
		t.Fatalf("expected edited text, got %q", view.Page.Items[0].Text)
	}

	sendJSONRequest(t, http.MethodDelete, url, nil, token, http.StatusNoContent)
	sendJSONRequest(t, http.MethodDelete, url, nil, token, http.StatusNoContent)

	empty := sendJSONRequest(t, http.MethodGet, ts.URL+"/", nil, "", http.StatusOK)
	if view := decodeView(t, empty); len(view.Page.Items) != 0 {
		t.Fatalf("expected empty front page, got %d posts", len(view.Page.Items))
	}
}

// groups, post detail and comments
func TestGroupPostAndComments(t *testing.T) {
	ts := setupTestServer(t, store.NewMemory())
	almaz := createUserHelper(t, ts, "almaz")
	nur := createUserHelper(t, ts, "nur")

	group := map[string]any{"title": "Cats", "slug": "cats", "description": "all about cats"}
	sendJSONRequest(t, http.MethodPost, ts.URL+"/groups", group, almaz, http.StatusCreated)
	sendJSONRequest(t, http.MethodPost, ts.URL+"/groups", group, almaz, http.StatusBadRequest)

	b := sendJSONRequest(t, http.MethodPost, ts.URL+"/posts", map[string]any{"text": "meow", "group": "cats"}, almaz, http.StatusCreated)
	var p models.Post
	json.Unmarshal(b, &p)

	b = sendJSONRequest(t, http.MethodGet, ts.URL+"/group/cats", nil, "", http.StatusOK)
	view := decodeView(t, b)
	if view.Group == nil || view.Group.Title != "Cats" || len(view.Page.Items) != 1 {
		t.Fatalf("unexpected group view: %+v", view)
	}

	url := fmt.Sprintf("%s/posts/%d", ts.URL, p.ID)
	sendJSONRequest(t, http.MethodPost, url+"/comments", map[string]any{"text": "purr"}, nur, http.StatusCreated)

	b = sendJSONRequest(t, http.MethodGet, url, nil, "", http.StatusOK)
	var detail models.PostDetail
	if err := json.Unmarshal(b, &detail); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(detail.Comments) != 1 || detail.Comments[0].Text != "purr" || detail.Comments[0].Author != "nur" {
		t.Fatalf("unexpected comments: %+v", detail.Comments)
	}
}

// status mapping for service errors
func TestErrorStatuses(t *testing.T) {
	ts := setupTestServer(t, store.NewMemory())
	almaz := createUserHelper(t, ts, "almaz")
	nur := createUserHelper(t, ts, "nur")
	p := createPostHelper(t, ts, almaz, "mine")
	url := fmt.Sprintf("%s/posts/%d", ts.URL, p.ID)

	sendJSONRequest(t, http.MethodGet, ts.URL+"/follow", nil, "", http.StatusUnauthorized)
	sendJSONRequest(t, http.MethodGet, ts.URL+"/", nil, "garbage", http.StatusUnauthorized)
	sendJSONRequest(t, http.MethodPost, ts.URL+"/posts", map[string]any{"text": "   "}, almaz, http.StatusBadRequest)
	sendJSONRequest(t, http.MethodPost, ts.URL+"/posts", map[string]any{"text": "x", "group": "nope"}, almaz, http.StatusBadRequest)
	sendJSONRequest(t, http.MethodPatch, url, map[string]any{"text": "hijack"}, nur, http.StatusForbidden)
	sendJSONRequest(t, http.MethodDelete, url, nil, nur, http.StatusForbidden)
	sendJSONRequest(t, http.MethodGet, ts.URL+"/posts/999", nil, "", http.StatusNotFound)
	sendJSONRequest(t, http.MethodGet, ts.URL+"/posts/abc", nil, "", http.StatusNotFound)
	sendJSONRequest(t, http.MethodGet, ts.URL+"/group/missing", nil, "", http.StatusNotFound)
	sendJSONRequest(t, http.MethodGet, ts.URL+"/profile/ghost", nil, "", http.StatusNotFound)
	sendJSONRequest(t, http.MethodPost, ts.URL+"/profile/almaz/follow", nil, almaz, http.StatusBadRequest)
	sendJSONRequest(t, http.MethodPost, ts.URL+"/profile/ghost/follow", nil, almaz, http.StatusNotFound)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{models.Invalid("text", "is required"), http.StatusBadRequest},
		{models.ErrSelfFollow, http.StatusBadRequest},
		{fmt.Errorf("lookup: %w", models.ErrNotFound), http.StatusNotFound},
		{models.ErrAuthRequired, http.StatusUnauthorized},
		{models.ErrNotAuthor, http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Fatalf("statusFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

// Store failure surfaces as 500
func TestStoreFailure(t *testing.T) {
	ts := setupTestServer(t, &store.MockStoreFail{})

	sendJSONRequest(t, http.MethodGet, ts.URL+"/", nil, "", http.StatusInternalServerError)
	sendJSONRequest(t, http.MethodPost, ts.URL+"/users", map[string]any{"username": "almaz"}, "", http.StatusInternalServerError)
}
