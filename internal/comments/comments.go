// Package comments stores discussion threads anchored to documents.
// Comments sit outside the document text and are never transformed;
// the coordinator only relays add/resolve events to attached sessions.
package comments

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a comment id does not exist for the document.
var ErrNotFound = errors.New("comment not found")

// Comment is a single remark anchored near a position in the text.
type Comment struct {
	ID        string `json:"id"`
	DocID     string `json:"doc_id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	Index     int    `json:"index"`
	Resolved  bool   `json:"resolved"`
	CreatedAt int64  `json:"created_at"`
}

// Store is the comment table, keyed by document id.
type Store interface {
	Add(ctx context.Context, c Comment) error
	List(ctx context.Context, docID string) ([]Comment, error)
	Resolve(ctx context.Context, docID, commentID string) (Comment, error)
}
