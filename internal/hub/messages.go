package hub

import (
	"github.com/ssau-fiit/coedit-api/internal/comments"
	"github.com/ssau-fiit/coedit-api/internal/ot"
)

// Frame types a client may send.
const (
	TypeSubmit   = "submit"
	TypePresence = "presence"
)

// Frame types the server pushes.
const (
	TypeSnapshot   = "snapshot"
	TypeAck        = "ack"
	TypeOperation  = "operation"
	TypeUserJoined = "user_joined"
	TypeUserLeft   = "user_left"
	TypeComment    = "comment"
	TypeError      = "error"
)

// Events carried by TypeComment frames.
const (
	CommentAdded    = "added"
	CommentResolved = "resolved"
)

// Error codes carried by TypeError frames.
const (
	CodeAccessDenied       = "access_denied"
	CodeUnknownVersion     = "unknown_version"
	CodeInvalidOperation   = "invalid_operation"
	CodeOutOfRange         = "out_of_range"
	CodeStorageUnavailable = "storage_unavailable"
	CodeInternal           = "internal"
)

// ClientMessage is any frame a client sends over its document socket.
// Submit frames carry one or more sequential edits against KnownVersion;
// presence frames carry the sender's cursor and optional selection.
type ClientMessage struct {
	Type           string         `json:"type"`
	Ops            []ot.Operation `json:"ops,omitempty"`
	KnownVersion   int64          `json:"known_version"`
	Cursor         int            `json:"cursor"`
	SelectionStart *int           `json:"selection_start,omitempty"`
	SelectionEnd   *int           `json:"selection_end,omitempty"`
}

// ServerMessage is any frame the server pushes to a session. Which
// fields are set depends on Type.
type ServerMessage struct {
	Type     string            `json:"type"`
	DocID    string            `json:"doc_id,omitempty"`
	Content  string            `json:"content,omitempty"`
	Version  int64             `json:"version,omitempty"`
	Op       *ot.Operation     `json:"op,omitempty"`
	Author   string            `json:"author,omitempty"`
	UserID   string            `json:"user_id,omitempty"`
	Presence []Presence        `json:"presence,omitempty"`
	Cursor   *Presence         `json:"cursor,omitempty"`
	Comment  *comments.Comment `json:"comment,omitempty"`
	Event    string            `json:"event,omitempty"`
	Code     string            `json:"code,omitempty"`
	Message  string            `json:"message,omitempty"`
}

func errorFrame(docID, code, message string) ServerMessage {
	return ServerMessage{Type: TypeError, DocID: docID, Code: code, Message: message}
}
