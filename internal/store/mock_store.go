package store

import (
	"context"
	"errors"

	"example.com/postfeed/internal/models"
)

// ErrMockFailure is returned by every MockStoreFail method.
var ErrMockFailure = errors.New("mock store failure")

// MockStoreFail always returns errors for negative tests
type MockStoreFail struct{}

func (m *MockStoreFail) Close() {}

func (m *MockStoreFail) CreateUser(context.Context, string) (string, error) {
	return "", ErrMockFailure
}

func (m *MockStoreFail) GetUserIDByUsername(context.Context, string) (string, error) {
	return "", ErrMockFailure
}

func (m *MockStoreFail) GetUser(context.Context, string) (models.User, error) {
	return models.User{}, ErrMockFailure
}

func (m *MockStoreFail) CreateGroup(context.Context, models.Group) error {
	return ErrMockFailure
}

func (m *MockStoreFail) GetGroup(context.Context, string) (models.Group, error) {
	return models.Group{}, ErrMockFailure
}

func (m *MockStoreFail) CreatePost(context.Context, models.NewPost) (models.Post, error) {
	return models.Post{}, ErrMockFailure
}

func (m *MockStoreFail) GetPost(context.Context, int64) (models.Post, error) {
	return models.Post{}, ErrMockFailure
}

func (m *MockStoreFail) UpdatePost(context.Context, int64, models.PostUpdate) (models.Post, error) {
	return models.Post{}, ErrMockFailure
}

func (m *MockStoreFail) DeletePost(context.Context, int64) error {
	return ErrMockFailure
}

func (m *MockStoreFail) QueryOrdered(context.Context, models.PostFilter) ([]models.Post, error) {
	return nil, ErrMockFailure
}

func (m *MockStoreFail) Follow(context.Context, string, string) error {
	return ErrMockFailure
}

func (m *MockStoreFail) Unfollow(context.Context, string, string) error {
	return ErrMockFailure
}

func (m *MockStoreFail) FollowedAuthorIDs(context.Context, string) ([]string, error) {
	return nil, ErrMockFailure
}

func (m *MockStoreFail) IsFollowing(context.Context, string, string) (bool, error) {
	return false, ErrMockFailure
}

func (m *MockStoreFail) AddComment(context.Context, models.Comment) (models.Comment, error) {
	return models.Comment{}, ErrMockFailure
}

func (m *MockStoreFail) ListComments(context.Context, int64) ([]models.Comment, error) {
	return nil, ErrMockFailure
}
