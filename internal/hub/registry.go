package hub

import (
	"context"
	"sync"

	"github.com/ssau-fiit/coedit-api/internal/auth"
	"github.com/ssau-fiit/coedit-api/internal/comments"
	"github.com/ssau-fiit/coedit-api/internal/config"
	"github.com/ssau-fiit/coedit-api/internal/store"
)

// Registry hands out the single live Coordinator per document. The mutex
// only guards the map; everything document-scoped happens inside the
// coordinators themselves.
type Registry struct {
	mu   sync.Mutex
	docs map[string]*Coordinator

	st  store.Store
	az  auth.Authorizer
	cfg config.Session
}

func NewRegistry(st store.Store, az auth.Authorizer, cfg config.Session) *Registry {
	return &Registry{
		docs: make(map[string]*Coordinator),
		st:   st,
		az:   az,
		cfg:  cfg,
	}
}

// Attach routes s to the document's coordinator, starting one when the
// document is idle, and returns the coordinator the session now belongs
// to. A coordinator caught mid-drain is replaced and the attach retried;
// a few failures in a row mean the document cannot be opened at all.
func (r *Registry) Attach(docID string, s *Session) (*Coordinator, error) {
	for attempt := 0; attempt < 3; attempt++ {
		c := r.coordinator(docID)
		if err := c.Attach(s); err == nil {
			return c, nil
		}
		r.remove(c)
	}
	return nil, ErrCoordinatorClosed
}

// RelayComment pushes a comment event to whoever has the document open.
// With no live coordinator there is nobody to tell.
func (r *Registry) RelayComment(docID string, cm comments.Comment, event string) {
	r.mu.Lock()
	c, ok := r.docs[docID]
	r.mu.Unlock()
	if ok {
		c.RelayComment(cm, event)
	}
}

// Drop stops the document's coordinator, if one is live, and waits for it
// to drain. Used when a document is deleted out from under its editors.
func (r *Registry) Drop(ctx context.Context, docID string) error {
	r.mu.Lock()
	c, ok := r.docs[docID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	c.Stop()
	select {
	case <-c.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every coordinator and waits for their final checkpoints,
// or gives up when ctx expires.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	all := make([]*Coordinator, 0, len(r.docs))
	for _, c := range r.docs {
		all = append(all, c)
	}
	r.mu.Unlock()

	for _, c := range all {
		go c.Stop()
	}
	for _, c := range all {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Registry) coordinator(docID string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.docs[docID]; ok {
		return c
	}
	c := newCoordinator(docID, r.st, r.az, r.cfg, r.remove)
	r.docs[docID] = c
	return c
}

// remove forgets a coordinator unless a fresh one already took its place.
func (r *Registry) remove(c *Coordinator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.docs[c.docID]; ok && cur == c {
		delete(r.docs, c.docID)
	}
}
