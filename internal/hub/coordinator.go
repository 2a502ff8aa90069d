// Package hub coordinates live editing sessions. Every open document is
// owned by exactly one Coordinator goroutine; all mutating traffic for
// that document flows through its inbox and is processed strictly in
// arrival order, so rebase, append and apply never race within a document
// while unrelated documents proceed in parallel.
package hub

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ssau-fiit/coedit-api/internal/auth"
	"github.com/ssau-fiit/coedit-api/internal/comments"
	"github.com/ssau-fiit/coedit-api/internal/config"
	"github.com/ssau-fiit/coedit-api/internal/ledger"
	"github.com/ssau-fiit/coedit-api/internal/metrics"
	"github.com/ssau-fiit/coedit-api/internal/ot"
	"github.com/ssau-fiit/coedit-api/internal/store"
)

// ErrCoordinatorClosed is returned when a message is sent to a document
// whose coordinator has already drained.
var ErrCoordinatorClosed = errors.New("coordinator closed")

const storeTimeout = 5 * time.Second

type phase int

const (
	phaseIdle phase = iota
	phaseActive
	phaseDraining
)

type inboundKind int

const (
	kindAttach inboundKind = iota
	kindDetach
	kindSubmit
	kindPresence
	kindComment
	kindStop
)

// inbound is one message on a coordinator's inbox.
type inbound struct {
	kind     inboundKind
	session  *Session
	ops      []ot.Operation
	known    int64
	presence Presence
	comment  comments.Comment
	event    string
}

// Coordinator owns all mutable state of one open document: the live
// content, the ledger, the attached sessions and their presence. Only the
// run loop touches that state.
type Coordinator struct {
	docID string
	st    store.Store
	az    auth.Authorizer
	cfg   config.Session
	log   zerolog.Logger

	inbox  chan inbound
	closed chan struct{}
	done   chan struct{}

	led             *ledger.Ledger
	content         string
	sessions        map[string]*Session
	presence        *presenceTracker
	phase           phase
	sinceCheckpoint int64
	onStop          func(*Coordinator)
}

func newCoordinator(docID string, st store.Store, az auth.Authorizer, cfg config.Session, onStop func(*Coordinator)) *Coordinator {
	c := &Coordinator{
		docID:    docID,
		st:       st,
		az:       az,
		cfg:      cfg,
		log:      log.With().Str("document", docID).Logger(),
		inbox:    make(chan inbound),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
		sessions: make(map[string]*Session),
		presence: newPresenceTracker(),
		onStop:   onStop,
	}
	go c.run()
	return c
}

// enqueue hands a message to the run loop. The inbox is unbuffered, so a
// successful send means the loop has taken the message; a closed
// coordinator can never silently drop one.
func (c *Coordinator) enqueue(m inbound) error {
	select {
	case c.inbox <- m:
		return nil
	case <-c.closed:
		return ErrCoordinatorClosed
	}
}

func (c *Coordinator) Attach(s *Session) error {
	return c.enqueue(inbound{kind: kindAttach, session: s})
}

func (c *Coordinator) Detach(s *Session) {
	_ = c.enqueue(inbound{kind: kindDetach, session: s})
}

func (c *Coordinator) Submit(s *Session, ops []ot.Operation, known int64) error {
	return c.enqueue(inbound{kind: kindSubmit, session: s, ops: ops, known: known})
}

func (c *Coordinator) UpdatePresence(s *Session, p Presence) error {
	return c.enqueue(inbound{kind: kindPresence, session: s, presence: p})
}

func (c *Coordinator) RelayComment(cm comments.Comment, event string) {
	_ = c.enqueue(inbound{kind: kindComment, comment: cm, event: event})
}

// Stop asks the coordinator to evict every session, checkpoint and exit.
func (c *Coordinator) Stop() {
	_ = c.enqueue(inbound{kind: kindStop})
}

// Done is closed once the run loop has exited and the final checkpoint
// was attempted.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) run() {
	defer close(c.done)
	metrics.ActiveDocuments.Inc()
	defer metrics.ActiveDocuments.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	led, content, err := ledger.Open(ctx, c.docID, c.st)
	cancel()
	if err != nil {
		c.log.Error().Err(err).Msg("could not open document")
		close(c.closed)
		if c.onStop != nil {
			c.onStop(c)
		}
		return
	}
	c.led, c.content = led, content
	c.log.Debug().Int64("version", led.Tip()).Msg("document opened")

	for {
		m := <-c.inbox
		switch m.kind {
		case kindAttach:
			c.handleAttach(m.session)
		case kindDetach:
			c.evict(m.session, "client detached")
		case kindSubmit:
			c.handleSubmit(m.session, m.ops, m.known)
		case kindPresence:
			c.handlePresence(m.session, m.presence)
		case kindComment:
			cm := m.comment
			c.broadcast(ServerMessage{Type: TypeComment, DocID: c.docID, Comment: &cm, Event: m.event}, nil)
		case kindStop:
			for _, s := range c.snapshotSessions() {
				c.evict(s, "coordinator stopping")
			}
			c.drain()
			return
		}
		if c.phase == phaseActive && len(c.sessions) == 0 {
			c.drain()
			return
		}
	}
}

// drain is the last thing the run loop does: stop accepting messages,
// leave the registry, persist a final checkpoint and evict the in-memory
// snapshot by returning.
func (c *Coordinator) drain() {
	c.phase = phaseDraining
	close(c.closed)
	if c.onStop != nil {
		c.onStop(c)
	}
	if c.sinceCheckpoint > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		c.checkpoint(ctx)
		cancel()
	}
	c.log.Debug().Msg("document drained")
}

func (c *Coordinator) handleAttach(s *Session) {
	for _, old := range c.snapshotSessions() {
		if old.UserID == s.UserID {
			// one session per user per document
			c.evict(old, "replaced by newer session")
		}
	}
	c.sessions[s.ID] = s
	c.phase = phaseActive
	metrics.ActiveSessions.Inc()

	c.push(s, ServerMessage{
		Type:     TypeSnapshot,
		DocID:    c.docID,
		Content:  c.content,
		Version:  c.led.Tip(),
		Presence: c.presence.list(),
	})
	c.broadcast(ServerMessage{Type: TypeUserJoined, DocID: c.docID, UserID: s.UserID}, s)
	c.log.Debug().Str("user", s.UserID).Msg("session attached")
}

func (c *Coordinator) handlePresence(s *Session, p Presence) {
	if _, ok := c.sessions[s.ID]; !ok {
		return
	}
	c.presence.set(p)
	metrics.PresenceUpdates.Inc()
	c.broadcast(ServerMessage{Type: TypePresence, DocID: c.docID, UserID: p.UserID, Cursor: &p}, s)
}

func (c *Coordinator) handleSubmit(s *Session, ops []ot.Operation, known int64) {
	if _, ok := c.sessions[s.ID]; !ok {
		return
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	access, err := c.az.CanAccess(ctx, s.UserID, c.docID)
	if err != nil {
		c.log.Error().Err(err).Msg("authorization check failed")
		c.reject(s, CodeInternal, "authorization check failed")
		return
	}
	if !access.Write {
		c.reject(s, CodeAccessDenied, "write access required")
		c.evict(s, "write denied")
		return
	}

	now := time.Now().UnixMilli()
	stamped := make([]ot.Operation, len(ops))
	for i, op := range ops {
		op.Author = s.UserID
		if op.IssuedAt == 0 {
			op.IssuedAt = now
		}
		stamped[i] = op
	}
	batch := ot.Compose(stamped)
	for _, op := range batch {
		if !op.Valid() {
			c.reject(s, CodeInvalidOperation, "malformed operation")
			return
		}
	}

	committed := make([]store.LogEntry, 0, len(batch))
	var rejectCode, rejectMsg string
	for _, op := range batch {
		if op.Type == ot.OpRetain {
			// placeholders are composed away, never persisted
			continue
		}

		entries, err := c.led.EntriesSince(ctx, known)
		if errors.Is(err, ledger.ErrUnknownVersion) {
			rejectCode, rejectMsg = CodeUnknownVersion, err.Error()
			break
		}
		if err != nil {
			c.log.Error().Err(err).Msg("could not read log entries")
			rejectCode, rejectMsg = CodeStorageUnavailable, "could not read operation log"
			break
		}
		metrics.RebaseDepth.Observe(float64(len(entries)))

		rebased := op
		for _, e := range entries {
			rebased, _ = ot.Transform(rebased, e.Op)
		}
		if absorbed(rebased) {
			// The rebase swallowed the whole operation: an insert inside a
			// committed delete, or a delete of an already-deleted range.
			// Nothing is left to apply, so no version is spent on it.
			continue
		}

		next, err := ot.Apply(c.content, rebased)
		if err != nil {
			// An operation that escapes rebase out of range is a server
			// defect, not client error. Commit nothing further.
			c.log.Error().Err(err).
				Stringer("operation", rebased).
				Int64("known_version", known).
				Msg("rebased operation does not apply")
			rejectCode, rejectMsg = CodeOutOfRange, "operation out of range after rebase"
			break
		}
		version, err := c.led.Append(ctx, rebased)
		if err != nil {
			c.log.Error().Err(err).Msg("could not append operation")
			rejectCode, rejectMsg = CodeStorageUnavailable, "could not persist operation"
			break
		}
		c.content = next
		committed = append(committed, store.LogEntry{Version: version, Op: rebased})
		metrics.OpsCommitted.WithLabelValues(string(rebased.Type)).Inc()
	}

	// The submitter hears its outcome first: the committed version on
	// success, the failure otherwise. Then every entry that did commit is
	// announced, failed frame or not, so the other sessions observe an
	// unbroken version sequence.
	switch {
	case rejectCode != "":
		c.reject(s, rejectCode, rejectMsg)
	case len(committed) == 0:
		c.push(s, ServerMessage{Type: TypeAck, DocID: c.docID, Version: c.led.Tip()})
	default:
		c.push(s, ServerMessage{Type: TypeAck, DocID: c.docID, Version: committed[len(committed)-1].Version})
	}
	for _, e := range committed {
		op := e.Op
		c.broadcast(ServerMessage{
			Type:    TypeOperation,
			DocID:   c.docID,
			Op:      &op,
			Version: e.Version,
			Author:  op.Author,
		}, s)
	}

	if len(committed) == 0 {
		return
	}
	c.sinceCheckpoint += int64(len(committed))
	if c.sinceCheckpoint >= c.cfg.CheckpointEvery {
		c.checkpoint(ctx)
	}
	metrics.CommitDuration.Observe(time.Since(start).Seconds())
}

// absorbed reports whether a rebase left nothing of the operation.
func absorbed(op ot.Operation) bool {
	switch op.Type {
	case ot.OpInsert:
		return op.Text == ""
	case ot.OpDelete:
		return op.Length == 0
	}
	return false
}

func (c *Coordinator) checkpoint(ctx context.Context) {
	snap := store.Snapshot{Content: c.content, Version: c.led.Tip()}
	if err := c.st.PersistSnapshot(ctx, c.docID, snap); err != nil {
		// Not fatal: recovery replays the log past the last good snapshot.
		c.log.Error().Err(err).Int64("version", snap.Version).Msg("could not persist checkpoint")
		return
	}
	c.led.TrimThrough(snap.Version)
	c.sinceCheckpoint = 0
	metrics.CheckpointsPersisted.Inc()
	c.log.Debug().Int64("version", snap.Version).Msg("checkpoint persisted")
}

// reject reports a failed submission to its sender. Errors never affect
// the other sessions on the document.
func (c *Coordinator) reject(s *Session, code, message string) {
	metrics.SubmitRejected.WithLabelValues(code).Inc()
	c.push(s, errorFrame(c.docID, code, message))
}

// push delivers a frame to one attached session, evicting it if its send
// buffer is full.
func (c *Coordinator) push(s *Session, msg ServerMessage) {
	if _, ok := c.sessions[s.ID]; !ok {
		return
	}
	select {
	case s.send <- msg:
	default:
		metrics.BroadcastsDropped.Inc()
		c.evict(s, "send buffer full")
	}
}

// broadcast delivers a frame to every attached session except the one
// given. Sessions that cannot keep up are evicted after the sweep.
func (c *Coordinator) broadcast(msg ServerMessage, except *Session) {
	var stalled []*Session
	for _, s := range c.sessions {
		if except != nil && s.ID == except.ID {
			continue
		}
		select {
		case s.send <- msg:
		default:
			metrics.BroadcastsDropped.Inc()
			stalled = append(stalled, s)
		}
	}
	for _, s := range stalled {
		c.evict(s, "send buffer full")
	}
}

// evict removes a session, prunes its presence and tells the remaining
// sessions it left. Idempotent.
func (c *Coordinator) evict(s *Session, reason string) {
	if _, ok := c.sessions[s.ID]; !ok {
		return
	}
	delete(c.sessions, s.ID)
	metrics.ActiveSessions.Dec()
	c.presence.remove(s.UserID)
	close(s.send)
	s.Close()
	c.log.Debug().Str("user", s.UserID).Str("reason", reason).Msg("session removed")
	c.broadcast(ServerMessage{Type: TypeUserLeft, DocID: c.docID, UserID: s.UserID}, nil)
}

func (c *Coordinator) snapshotSessions() []*Session {
	out := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}
