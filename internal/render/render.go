// Package render turns resolved feeds into response bodies.
package render

import (
	"encoding/json"

	"example.com/postfeed/internal/models"
)

// Func renders a feed view. It must be deterministic: equal views give equal bytes.
type Func func(view models.FeedView) ([]byte, error)

// JSON renders the view as a JSON document terminated by a newline.
func JSON(view models.FeedView) ([]byte, error) {
	if view.Page.Items == nil {
		view.Page.Items = []models.Post{}
	}
	body, err := json.Marshal(view)
	if err != nil {
		return nil, err
	}
	return append(body, '\n'), nil
}
