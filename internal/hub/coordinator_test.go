package hub

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssau-fiit/coedit-api/internal/auth"
	"github.com/ssau-fiit/coedit-api/internal/comments"
	"github.com/ssau-fiit/coedit-api/internal/config"
	"github.com/ssau-fiit/coedit-api/internal/ledger"
	"github.com/ssau-fiit/coedit-api/internal/ot"
	"github.com/ssau-fiit/coedit-api/internal/store"
)

func ins(index int, text string) ot.Operation {
	return ot.Operation{Type: ot.OpInsert, Index: index, Text: text}
}

func del(index, length int) ot.Operation {
	return ot.Operation{Type: ot.OpDelete, Index: index, Length: length}
}

func testSessionCfg() config.Session {
	return config.Session{SendBuffer: 16, CheckpointEvery: 100, PresencePerSecond: 100, PresenceBurst: 100}
}

func newTestRig(t *testing.T, content string) (*Registry, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	err := mem.CreateDocument(context.Background(), store.Document{ID: "doc-1", Name: "essay"}, content)
	require.NoError(t, err)
	return NewRegistry(mem, auth.AllowAll{}, testSessionCfg()), mem
}

// attach joins a user and consumes the snapshot frame it is greeted with.
func attach(t *testing.T, r *Registry, user string) (*Session, ServerMessage) {
	t.Helper()
	s := NewSession(nil, user, testSessionCfg())
	_, err := r.Attach("doc-1", s)
	require.NoError(t, err)
	snap := recv(t, s)
	require.Equal(t, TypeSnapshot, snap.Type)
	return s, snap
}

func recv(t *testing.T, s *Session) ServerMessage {
	t.Helper()
	select {
	case msg, ok := <-s.send:
		require.True(t, ok, "send channel closed while a frame was expected")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return ServerMessage{}
	}
}

func recvClosed(t *testing.T, s *Session) {
	t.Helper()
	select {
	case msg, ok := <-s.send:
		require.False(t, ok, "expected closed channel, got frame %+v", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the channel to close")
	}
}

func assertNoFrame(t *testing.T, s *Session, why string) {
	t.Helper()
	select {
	case msg := <-s.send:
		t.Fatalf("%s: unexpected frame %+v", why, msg)
	default:
	}
}

func waitDone(t *testing.T, c *Coordinator) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not drain")
	}
}

func TestAttachSendsSnapshotAndAnnouncesJoin(t *testing.T) {
	r, _ := newTestRig(t, "hello")

	s1, snap := attach(t, r, "alice")
	assert.Equal(t, "hello", snap.Content)
	assert.Equal(t, int64(0), snap.Version)
	assert.Empty(t, snap.Presence)

	_, snap2 := attach(t, r, "bob")
	assert.Equal(t, "hello", snap2.Content)

	joined := recv(t, s1)
	assert.Equal(t, TypeUserJoined, joined.Type)
	assert.Equal(t, "bob", joined.UserID)
}

func TestSubmitAcksSubmitterThenBroadcasts(t *testing.T) {
	r, mem := newTestRig(t, "")
	s1, _ := attach(t, r, "alice")
	s2, _ := attach(t, r, "bob")
	recv(t, s1) // bob joined
	c := r.coordinator("doc-1")

	require.NoError(t, c.Submit(s1, []ot.Operation{ins(0, "hi")}, 0))

	ack := recv(t, s1)
	assert.Equal(t, TypeAck, ack.Type)
	assert.Equal(t, int64(1), ack.Version)

	op := recv(t, s2)
	assert.Equal(t, TypeOperation, op.Type)
	assert.Equal(t, int64(1), op.Version)
	assert.Equal(t, "alice", op.Author)
	require.NotNil(t, op.Op)
	assert.Equal(t, "hi", op.Op.Text)

	assertNoFrame(t, s1, "operations must not echo to their submitter")

	entries, err := mem.ReadLogEntriesSince(context.Background(), "doc-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Op.Author, "the server stamps authorship")
}

func TestConcurrentEditsConverge(t *testing.T) {
	// Both clients edit version 0 of "ab": alice inserts "X" after the
	// first rune, bob deletes that rune. Whichever reaches the server
	// second is rebased, and the document must converge either way.
	run := func(t *testing.T, insertFirst bool) string {
		r, _ := newTestRig(t, "ab")
		s1, _ := attach(t, r, "alice")
		s2, _ := attach(t, r, "bob")
		recv(t, s1) // bob joined
		c := r.coordinator("doc-1")

		insOp := []ot.Operation{ins(1, "X")}
		delOp := []ot.Operation{del(0, 1)}
		if insertFirst {
			require.NoError(t, c.Submit(s1, insOp, 0))
			require.NoError(t, c.Submit(s2, delOp, 0))
		} else {
			require.NoError(t, c.Submit(s2, delOp, 0))
			require.NoError(t, c.Submit(s1, insOp, 0))
		}

		_, snap := attach(t, r, "carol")
		assert.Equal(t, int64(2), snap.Version)
		return snap.Content
	}

	t.Run("insert first", func(t *testing.T) {
		assert.Equal(t, "Xb", run(t, true))
	})
	t.Run("delete first", func(t *testing.T) {
		assert.Equal(t, "Xb", run(t, false))
	})
}

func TestStaleSubmitRebasedThroughHistory(t *testing.T) {
	r, mem := newTestRig(t, "")
	s1, _ := attach(t, r, "alice")
	s2, _ := attach(t, r, "bob")
	recv(t, s1) // bob joined
	c := r.coordinator("doc-1")

	// bob types "abcdefgh", one committed operation per keystroke.
	for i, ch := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		require.NoError(t, c.Submit(s2, []ot.Operation{ins(i, ch)}, int64(i)))
		ack := recv(t, s2)
		require.Equal(t, TypeAck, ack.Type)
		require.Equal(t, int64(i+1), ack.Version)
		recv(t, s1) // the matching broadcast
	}

	// alice is three versions behind; her edit rebases through 6,7,8 and
	// must be acknowledged at 9, not 6.
	require.NoError(t, c.Submit(s1, []ot.Operation{ins(0, "Z")}, 5))
	ack := recv(t, s1)
	assert.Equal(t, TypeAck, ack.Type)
	assert.Equal(t, int64(9), ack.Version)

	_, snap := attach(t, r, "carol")
	assert.Equal(t, "Zabcdefgh", snap.Content)
	assert.Equal(t, int64(9), snap.Version)

	// Replaying the full log over the creation content reproduces the
	// live text exactly.
	entries, err := mem.ReadLogEntriesSince(context.Background(), "doc-1", 0)
	require.NoError(t, err)
	replayed, err := ledger.Replay("", entries)
	require.NoError(t, err)
	assert.Equal(t, "Zabcdefgh", replayed)
}

func TestSubmitUnknownVersionRejected(t *testing.T) {
	r, mem := newTestRig(t, "")
	s1, _ := attach(t, r, "alice")
	c := r.coordinator("doc-1")

	require.NoError(t, c.Submit(s1, []ot.Operation{ins(0, "x")}, 99))
	frame := recv(t, s1)
	assert.Equal(t, TypeError, frame.Type)
	assert.Equal(t, CodeUnknownVersion, frame.Code)

	require.NoError(t, c.Submit(s1, []ot.Operation{ins(0, "x")}, -1))
	frame = recv(t, s1)
	assert.Equal(t, CodeUnknownVersion, frame.Code)

	entries, err := mem.ReadLogEntriesSince(context.Background(), "doc-1", 0)
	require.NoError(t, err)
	assert.Empty(t, entries, "a rejected submission commits nothing")
}

func TestComposedFrameCommitsOnce(t *testing.T) {
	r, mem := newTestRig(t, "")
	s1, _ := attach(t, r, "alice")
	s2, _ := attach(t, r, "bob")
	recv(t, s1) // bob joined
	c := r.coordinator("doc-1")

	frame := []ot.Operation{ins(0, "h"), ins(1, "e"), ins(2, "y")}
	require.NoError(t, c.Submit(s1, frame, 0))

	ack := recv(t, s1)
	assert.Equal(t, int64(1), ack.Version, "contiguous keystrokes collapse into one commit")

	op := recv(t, s2)
	require.NotNil(t, op.Op)
	assert.Equal(t, "hey", op.Op.Text)

	entries, err := mem.ReadLogEntriesSince(context.Background(), "doc-1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRetainOnlyFrameAcksAtTip(t *testing.T) {
	r, mem := newTestRig(t, "")
	s1, _ := attach(t, r, "alice")
	c := r.coordinator("doc-1")

	require.NoError(t, c.Submit(s1, []ot.Operation{{Type: ot.OpRetain, Index: 0}}, 0))
	ack := recv(t, s1)
	assert.Equal(t, TypeAck, ack.Type)
	assert.Equal(t, int64(0), ack.Version)

	entries, err := mem.ReadLogEntriesSince(context.Background(), "doc-1", 0)
	require.NoError(t, err)
	assert.Empty(t, entries, "retain placeholders are never logged")
}

var errBackendDown = errors.New("backend down")

// appendFailStore lets a fixed number of appends through, then fails the
// rest, as a backend dying mid-frame would.
type appendFailStore struct {
	store.Store
	remaining int
}

func (f *appendFailStore) AppendLogEntry(ctx context.Context, docID string, entry store.LogEntry) (int64, error) {
	if f.remaining <= 0 {
		return 0, errBackendDown
	}
	f.remaining--
	return f.Store.AppendLogEntry(ctx, docID, entry)
}

func TestPartialFrameFailureStillBroadcastsCommitted(t *testing.T) {
	mem := store.NewMemory()
	require.NoError(t, mem.CreateDocument(context.Background(), store.Document{ID: "doc-1"}, "abc"))
	flaky := &appendFailStore{Store: mem, remaining: 1}
	r := NewRegistry(flaky, auth.AllowAll{}, testSessionCfg())

	s1, _ := attach(t, r, "alice")
	s2, _ := attach(t, r, "bob")
	recv(t, s1) // bob joined
	c := r.coordinator("doc-1")

	// A two-op frame: the first append lands, the second hits the dead
	// backend.
	require.NoError(t, c.Submit(s1, []ot.Operation{ins(0, "X"), del(2, 1)}, 0))

	frame := recv(t, s1)
	assert.Equal(t, TypeError, frame.Type)
	assert.Equal(t, CodeStorageUnavailable, frame.Code)
	assertNoFrame(t, s1, "a failed frame gets one error, no ack")

	// bob must still observe version 1: whatever committed before the
	// failure is announced, or his version sequence would hold a gap.
	op := recv(t, s2)
	assert.Equal(t, TypeOperation, op.Type)
	assert.Equal(t, int64(1), op.Version)
	require.NotNil(t, op.Op)
	assert.Equal(t, "X", op.Op.Text)

	entries, err := mem.ReadLogEntriesSince(context.Background(), "doc-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the first op of the frame commits")
}

func TestAbsorbedOperationNotLogged(t *testing.T) {
	r, mem := newTestRig(t, "abcdef")
	s1, _ := attach(t, r, "alice")
	s2, _ := attach(t, r, "bob")
	recv(t, s1) // bob joined
	c := r.coordinator("doc-1")

	require.NoError(t, c.Submit(s2, []ot.Operation{del(1, 4)}, 0))
	recv(t, s2) // ack
	recv(t, s1) // the broadcast

	// alice's insert lands inside the committed delete and the rebase
	// absorbs it whole; nothing is left to log.
	require.NoError(t, c.Submit(s1, []ot.Operation{ins(3, "XY")}, 0))
	ack := recv(t, s1)
	assert.Equal(t, TypeAck, ack.Type)
	assert.Equal(t, int64(1), ack.Version, "an absorbed operation acks at the tip")
	assertNoFrame(t, s2, "an absorbed operation must not be announced")

	// A delete of the already-deleted range collapses to nothing too.
	require.NoError(t, c.Submit(s1, []ot.Operation{del(1, 4)}, 0))
	ack = recv(t, s1)
	assert.Equal(t, int64(1), ack.Version)

	entries, err := mem.ReadLogEntriesSince(context.Background(), "doc-1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "absorbed operations burn no versions")
}

func TestPresenceBroadcastAndPruning(t *testing.T) {
	r, _ := newTestRig(t, "")
	s1, _ := attach(t, r, "alice")
	s2, _ := attach(t, r, "bob")
	recv(t, s1) // bob joined
	c := r.coordinator("doc-1")

	require.NoError(t, c.UpdatePresence(s1, Presence{UserID: "alice", Cursor: 3}))

	frame := recv(t, s2)
	assert.Equal(t, TypePresence, frame.Type)
	assert.Equal(t, "alice", frame.UserID)
	require.NotNil(t, frame.Cursor)
	assert.Equal(t, 3, frame.Cursor.Cursor)
	assertNoFrame(t, s1, "presence must not echo to its sender")

	_, snap := attach(t, r, "carol")
	recv(t, s1) // carol joined
	recv(t, s2) // carol joined
	require.Len(t, snap.Presence, 1, "new sessions see live cursors")
	assert.Equal(t, "alice", snap.Presence[0].UserID)

	c.Detach(s1)
	left := recv(t, s2)
	assert.Equal(t, TypeUserLeft, left.Type)
	assert.Equal(t, "alice", left.UserID)

	_, snap = attach(t, r, "dave")
	assert.Empty(t, snap.Presence, "presence must not outlive its session")
}

type readOnly struct{}

func (readOnly) CanAccess(context.Context, string, string) (auth.Access, error) {
	return auth.Access{Read: true}, nil
}

func TestSubmitWithoutWriteAccessEvicts(t *testing.T) {
	mem := store.NewMemory()
	require.NoError(t, mem.CreateDocument(context.Background(), store.Document{ID: "doc-1"}, ""))
	r := NewRegistry(mem, readOnly{}, testSessionCfg())

	s1, _ := attach(t, r, "alice")
	s2, _ := attach(t, r, "bob")
	recv(t, s1) // bob joined
	c := r.coordinator("doc-1")

	require.NoError(t, c.Submit(s1, []ot.Operation{ins(0, "x")}, 0))
	frame := recv(t, s1)
	assert.Equal(t, TypeError, frame.Type)
	assert.Equal(t, CodeAccessDenied, frame.Code)
	recvClosed(t, s1)

	left := recv(t, s2)
	assert.Equal(t, TypeUserLeft, left.Type)
	assert.Equal(t, "alice", left.UserID)
}

func TestInvalidOperationRejected(t *testing.T) {
	r, _ := newTestRig(t, "")
	s1, _ := attach(t, r, "alice")
	c := r.coordinator("doc-1")

	require.NoError(t, c.Submit(s1, []ot.Operation{{Type: ot.OpInsert, Index: -1, Text: "x"}}, 0))
	frame := recv(t, s1)
	assert.Equal(t, CodeInvalidOperation, frame.Code)
}

func TestLastDetachDrainsAndCheckpoints(t *testing.T) {
	r, mem := newTestRig(t, "")
	s1, _ := attach(t, r, "alice")
	c := r.coordinator("doc-1")

	require.NoError(t, c.Submit(s1, []ot.Operation{ins(0, "draft")}, 0))
	recv(t, s1) // ack

	c.Detach(s1)
	recvClosed(t, s1)
	waitDone(t, c)

	snap, err := mem.LoadSnapshot(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "draft", snap.Content, "draining persists a final checkpoint")
	assert.Equal(t, int64(1), snap.Version)

	r.mu.Lock()
	assert.Empty(t, r.docs, "a drained document leaves the registry")
	r.mu.Unlock()

	// A fresh attach recovers the persisted state through a new coordinator.
	_, snap2 := attach(t, r, "bob")
	assert.Equal(t, "draft", snap2.Content)
	assert.Equal(t, int64(1), snap2.Version)
}

func TestPeriodicCheckpoint(t *testing.T) {
	mem := store.NewMemory()
	require.NoError(t, mem.CreateDocument(context.Background(), store.Document{ID: "doc-1"}, ""))
	cfg := testSessionCfg()
	cfg.CheckpointEvery = 2
	r := NewRegistry(mem, auth.AllowAll{}, cfg)

	s1 := NewSession(nil, "alice", cfg)
	c, err := r.Attach("doc-1", s1)
	require.NoError(t, err)
	recv(t, s1) // snapshot

	require.NoError(t, c.Submit(s1, []ot.Operation{ins(0, "a")}, 0))
	recv(t, s1)
	require.NoError(t, c.Submit(s1, []ot.Operation{ins(1, "b")}, 1))
	recv(t, s1)

	// A no-op round trip: its ack proves the previous submission, and with
	// it the checkpoint, has fully run.
	require.NoError(t, c.Submit(s1, []ot.Operation{{Type: ot.OpRetain, Index: 0}}, 2))
	recv(t, s1)

	snap, err := mem.LoadSnapshot(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version, "the second commit triggers a checkpoint")
	assert.Equal(t, "ab", snap.Content)
}

func TestSlowConsumerEvicted(t *testing.T) {
	r, _ := newTestRig(t, "")

	slowCfg := testSessionCfg()
	slowCfg.SendBuffer = 1
	slow := NewSession(nil, "slow", slowCfg)
	_, err := r.Attach("doc-1", slow)
	require.NoError(t, err)
	// Deliberately not reading: the snapshot now fills slow's whole buffer.

	s2, _ := attach(t, r, "bob")

	// The join broadcast found slow's buffer full and evicted it.
	left := recv(t, s2)
	assert.Equal(t, TypeUserLeft, left.Type)
	assert.Equal(t, "slow", left.UserID)

	snap := recv(t, slow)
	assert.Equal(t, TypeSnapshot, snap.Type)
	recvClosed(t, slow)
}

func TestSecondSessionReplacesSameUser(t *testing.T) {
	r, _ := newTestRig(t, "")
	first, _ := attach(t, r, "alice")
	second, _ := attach(t, r, "alice")

	recvClosed(t, first)
	assertNoFrame(t, second, "the replacement session is not told about itself")

	c := r.coordinator("doc-1")
	require.NoError(t, c.Submit(second, []ot.Operation{ins(0, "x")}, 0))
	ack := recv(t, second)
	assert.Equal(t, int64(1), ack.Version)
}

func TestCommentRelayReachesEverySession(t *testing.T) {
	r, _ := newTestRig(t, "")
	s1, _ := attach(t, r, "alice")
	s2, _ := attach(t, r, "bob")
	recv(t, s1) // bob joined

	cm := comments.Comment{ID: "c1", DocID: "doc-1", Author: "alice", Text: "looks good"}
	r.RelayComment("doc-1", cm, CommentAdded)

	for _, s := range []*Session{s1, s2} {
		frame := recv(t, s)
		assert.Equal(t, TypeComment, frame.Type)
		assert.Equal(t, CommentAdded, frame.Event)
		require.NotNil(t, frame.Comment)
		assert.Equal(t, "c1", frame.Comment.ID)
	}

	r.RelayComment("ghost", cm, CommentAdded) // nobody home, nothing to do
}

func TestVersionsStayContiguous(t *testing.T) {
	r, mem := newTestRig(t, "")
	s1, _ := attach(t, r, "alice")
	s2, _ := attach(t, r, "bob")
	recv(t, s1) // bob joined
	c := r.coordinator("doc-1")

	// Ten submissions, all claiming version 0, alternating authors: every
	// one must rebase and commit without gaps or repeats.
	for i := 0; i < 10; i++ {
		s := s1
		if i%2 == 1 {
			s = s2
		}
		require.NoError(t, c.Submit(s, []ot.Operation{ins(0, fmt.Sprintf("%d", i))}, 0))
		recv(t, s) // ack
	}

	entries, err := mem.ReadLogEntriesSince(context.Background(), "doc-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 10)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Version)
	}
	_, err = ledger.Replay("", entries)
	require.NoError(t, err, "the committed log must replay cleanly")
}

func TestDropKicksLiveEditors(t *testing.T) {
	r, mem := newTestRig(t, "")
	s1, _ := attach(t, r, "alice")
	c := r.coordinator("doc-1")
	require.NoError(t, c.Submit(s1, []ot.Operation{ins(0, "x")}, 0))
	recv(t, s1) // ack

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Drop(ctx, "doc-1"))
	recvClosed(t, s1)
	waitDone(t, c)

	snap, err := mem.LoadSnapshot(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version, "the drain checkpoint lands before the drop returns")

	require.NoError(t, r.Drop(ctx, "doc-1"), "dropping an idle document is a no-op")
}

func TestShutdownDrainsEverything(t *testing.T) {
	r, mem := newTestRig(t, "")
	require.NoError(t, mem.CreateDocument(context.Background(), store.Document{ID: "doc-2"}, ""))

	s1, _ := attach(t, r, "alice")
	c1 := r.coordinator("doc-1")
	require.NoError(t, c1.Submit(s1, []ot.Operation{ins(0, "bye")}, 0))
	recv(t, s1) // ack

	s2 := NewSession(nil, "bob", testSessionCfg())
	c2, err := r.Attach("doc-2", s2)
	require.NoError(t, err)
	recv(t, s2) // snapshot

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	waitDone(t, c1)
	waitDone(t, c2)
	recvClosed(t, s1)
	recvClosed(t, s2)

	snap, err := mem.LoadSnapshot(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "bye", snap.Content)

	r.mu.Lock()
	assert.Empty(t, r.docs)
	r.mu.Unlock()
}
