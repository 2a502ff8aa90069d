// Package ot implements the operational-transform primitives for
// collaborative text editing: single-span operations, their application
// to document content, keystroke composition and concurrent-pair
// transformation.
package ot

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrOutOfRange is returned when an operation targets a position outside
// the current document bounds.
var ErrOutOfRange = errors.New("operation out of range")

// Kind discriminates operation types on the wire.
type Kind string

const (
	OpInsert Kind = "insert"
	OpDelete Kind = "delete"
	OpRetain Kind = "retain"
)

// Operation is an atomic edit against a document's text. Positions and
// lengths are rune offsets, so multi-byte content transforms the same way
// it renders. Operations are treated as immutable: Transform and Compose
// return fresh values and never modify their arguments.
type Operation struct {
	Type     Kind   `json:"type"`
	Index    int    `json:"index"`
	Length   int    `json:"length,omitempty"`
	Text     string `json:"text,omitempty"`
	Author   string `json:"author"`
	IssuedAt int64  `json:"issued_at,omitempty"`
}

// TextLen returns the rune length of the inserted text.
func (op Operation) TextLen() int {
	return utf8.RuneCountInString(op.Text)
}

// end returns the first rune index past a delete's range.
func (op Operation) end() int {
	return op.Index + op.Length
}

func (op Operation) String() string {
	switch op.Type {
	case OpInsert:
		return fmt.Sprintf("insert(%d,%q)", op.Index, op.Text)
	case OpDelete:
		return fmt.Sprintf("delete(%d,%d)", op.Index, op.Length)
	default:
		return fmt.Sprintf("%s(%d)", op.Type, op.Index)
	}
}

// Valid reports whether the operation is structurally well-formed,
// independent of any document it may later be applied to.
func (op Operation) Valid() bool {
	if op.Index < 0 {
		return false
	}
	switch op.Type {
	case OpInsert:
		return op.Text != ""
	case OpDelete:
		return op.Length > 0
	case OpRetain:
		return true
	default:
		return false
	}
}

// Apply splices op into content and returns the new content. Insert places
// Text at Index, Delete removes Length runes starting at Index, Retain
// leaves content untouched. Returns ErrOutOfRange when Index (or
// Index+Length) exceeds the content's rune length.
func Apply(content string, op Operation) (string, error) {
	switch op.Type {
	case OpInsert:
		runes := []rune(content)
		if op.Index < 0 || op.Index > len(runes) {
			return "", fmt.Errorf("%w: insert at %d in text of %d", ErrOutOfRange, op.Index, len(runes))
		}
		return string(runes[:op.Index]) + op.Text + string(runes[op.Index:]), nil
	case OpDelete:
		runes := []rune(content)
		if op.Index < 0 || op.Length < 0 || op.end() > len(runes) {
			return "", fmt.Errorf("%w: delete [%d,%d) in text of %d", ErrOutOfRange, op.Index, op.end(), len(runes))
		}
		return string(runes[:op.Index]) + string(runes[op.end():]), nil
	case OpRetain:
		return content, nil
	default:
		return "", fmt.Errorf("unknown operation type %q", op.Type)
	}
}

// Compose collapses keystroke-level operations before they reach the log.
// Adjacent inserts by the same author are merged when the second continues
// exactly where the first ended. Operations of different kinds or authors
// are never merged. The input slice is left untouched.
func Compose(ops []Operation) []Operation {
	if len(ops) < 2 {
		return ops
	}
	out := make([]Operation, 0, len(ops))
	cur := ops[0]
	for _, next := range ops[1:] {
		if contiguousInserts(cur, next) {
			cur.Text += next.Text
			continue
		}
		out = append(out, cur)
		cur = next
	}
	return append(out, cur)
}

func contiguousInserts(a, b Operation) bool {
	return a.Type == OpInsert && b.Type == OpInsert &&
		a.Author == b.Author &&
		b.Index == a.Index+a.TextLen()
}
