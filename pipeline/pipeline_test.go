////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package pipeline

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/stretchr/testify/require"
	"gitlab.com/elixxir/ekv"

	"gitlab.com/elixxir/parley/abuse"
	"gitlab.com/elixxir/parley/attachment"
	"gitlab.com/elixxir/parley/cache"
	"gitlab.com/elixxir/parley/conversation"
	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/moderation"
	"gitlab.com/elixxir/parley/realtime"
	"gitlab.com/elixxir/parley/storage/versioned"
	"gitlab.com/elixxir/parley/stoppable"
	"gitlab.com/elixxir/parley/store"
)

func TestMain(m *testing.M) {
	jww.SetStdoutThreshold(jww.LevelInfo)
	os.Exit(m.Run())
}

var (
	testRef   = conversation.NewRef(conversation.Negotiation, "n-42")
	testStart = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
)

type noticeRecorder struct {
	notices []event.Notice
	mux     sync.Mutex
}

func (n *noticeRecorder) Report(priority int, category, evtType, details string) {
	n.mux.Lock()
	n.notices = append(n.notices, event.Notice{Priority: priority,
		Category: category, EventType: evtType, Details: details})
	n.mux.Unlock()
}

func (n *noticeRecorder) find(evtType string) (event.Notice, bool) {
	n.mux.Lock()
	defer n.mux.Unlock()
	for _, notice := range n.notices {
		if notice.EventType == evtType {
			return notice, true
		}
	}
	return event.Notice{}, false
}

// modelRecorder is an EventModel that counts its calls.
type modelRecorder struct {
	NoopEventModel
	added, confirmed, updated, removed int
	mux                                sync.Mutex
}

func (m *modelRecorder) MessageAdded(conversation.Message) {
	m.mux.Lock()
	m.added++
	m.mux.Unlock()
}

func (m *modelRecorder) MessageConfirmed(uuid.UUID, conversation.Message) {
	m.mux.Lock()
	m.confirmed++
	m.mux.Unlock()
}

func (m *modelRecorder) MessageUpdated(conversation.Message) {
	m.mux.Lock()
	m.updated++
	m.mux.Unlock()
}

func (m *modelRecorder) MessageRemoved(conversation.Message) {
	m.mux.Lock()
	m.removed++
	m.mux.Unlock()
}

func (m *modelRecorder) counts() [4]int {
	m.mux.Lock()
	defer m.mux.Unlock()
	return [4]int{m.added, m.confirmed, m.updated, m.removed}
}

type testEnv struct {
	store   *store.Store
	bus     *realtime.Bus
	cache   *cache.Cache
	gate    *moderation.Gate
	tracker *abuse.Tracker
	clock   *clock.Mock
	notices *noticeRecorder
}

// rejectBad approves everything except messages containing "bad".
var rejectBad = moderation.ClassifierFunc(func(_ context.Context,
	m conversation.Message) (moderation.Decision, error) {
	if strings.Contains(m.Content, "bad") {
		return moderation.Reject("offensive"), nil
	}
	return moderation.Approve, nil
})

func newTestEnv(t *testing.T) *testEnv {
	clk := clock.NewMock()
	clk.Set(testStart)
	bus := realtime.NewBus()

	p := store.GetDefaultParams()
	p.DSN = store.TemporaryDSN(t.Name())
	s, err := store.Open(p, bus, clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	notices := &noticeRecorder{}
	kv := versioned.NewKV(ekv.MakeMemstore())
	tracker := abuse.NewTracker(abuse.NewKVStore(kv, clk), clk, notices)

	gp := moderation.GetDefaultParams()
	gp.RetryBackoff = 0
	gate := moderation.NewGate(gp, rejectBad, s, tracker, notices, clock.New())
	stop := gate.Start()
	t.Cleanup(func() {
		_ = stop.Close()
		_ = stoppable.WaitForStopped(stop, time.Second)
	})

	return &testEnv{
		store:   s,
		bus:     bus,
		cache:   cache.New(cache.GetDefaultParams(), clk),
		gate:    gate,
		tracker: tracker,
		clock:   clk,
		notices: notices,
	}
}

func (env *testEnv) deps() Deps {
	return Deps{
		Store:    env.store,
		Cache:    env.cache,
		Bus:      env.bus,
		Gate:     env.gate,
		Abuse:    env.tracker,
		Reporter: env.notices,
		Clock:    env.clock,
	}
}

func (env *testEnv) open(t *testing.T, userID string, deps Deps,
	model EventModel) *Pipeline {
	p, err := Open(context.Background(), testRef, userID, deps,
		GetDefaultParams(), model)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func waitFor(t *testing.T, p *Pipeline,
	cond func(messages []conversation.Message) bool) []conversation.Message {
	var messages []conversation.Message
	require.Eventually(t, func() bool {
		messages = p.Messages()
		return cond(messages)
	}, 3*time.Second, 5*time.Millisecond)
	return messages
}

// Tests the pagination contract over 45 messages: 20 newest in chronological
// order, then 20 and 5 older, after which there is no more.
func TestPipeline_Pagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 45; i++ {
		_, err := env.store.Append(ctx, conversation.Message{
			ConversationID: testRef.ID, Kind: testRef.Kind,
			SenderID: "alice", Content: "m" + strconv.Itoa(i)})
		require.NoError(t, err)
		env.clock.Add(time.Second)
	}

	p := env.open(t, "alice", env.deps(), nil)
	messages := p.Messages()
	require.Len(t, messages, 20)
	require.True(t, p.HasMore())
	require.Equal(t, "m25", messages[0].Content)
	require.Equal(t, "m44", messages[19].Content)

	page, err := p.LoadMore(ctx)
	require.NoError(t, err)
	require.Equal(t, 20, page.Fetched)
	require.True(t, page.HasMore)
	require.Equal(t, "m5", page.Messages[0].Content)

	page, err = p.LoadMore(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, page.Fetched)
	require.False(t, page.HasMore)
	require.Len(t, page.Messages, 45)
	for i, m := range page.Messages {
		require.Equal(t, "m"+strconv.Itoa(i), m.Content)
	}

	page, err = p.LoadMore(ctx)
	require.NoError(t, err)
	require.Zero(t, page.Fetched)
}

// Tests that the first page is served from the conversation cache while it is
// fresh and that Close drops the entry.
func TestPipeline_LoadMessages_Cache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.store.Append(ctx, conversation.Message{
		ConversationID: testRef.ID, Kind: testRef.Kind,
		SenderID: "alice", Content: "cached"})
	require.NoError(t, err)

	p, err := Open(ctx, testRef, "alice", env.deps(), GetDefaultParams(), nil)
	require.NoError(t, err)
	entry, ok := env.cache.Peek(testRef)
	require.True(t, ok)
	require.Len(t, entry.Messages, 1)
	require.NoError(t, p.Close())

	_, ok = env.cache.Peek(testRef)
	require.False(t, ok)
}

// Scenario: "hello" from an unblocked user is approved and ends up sent,
// approved and visible to the peer.
func TestPipeline_Send_Hello(t *testing.T) {
	env := newTestEnv(t)
	model := &modelRecorder{}
	alice := env.open(t, "alice", env.deps(), model)

	stored, err := alice.Send(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.NotZero(t, stored.ID)
	require.Equal(t, conversation.Moderating, stored.DeliveryStatus)
	require.Equal(t, conversation.ModerationPending, stored.ModerationStatus)

	messages := waitFor(t, alice, func(m []conversation.Message) bool {
		return len(m) == 1 &&
			m[0].ModerationStatus == conversation.ModerationApproved
	})
	require.Equal(t, conversation.Sent, messages[0].DeliveryStatus)
	require.False(t, messages[0].IsOptimistic())

	require.Eventually(t, func() bool { return model.counts()[2] >= 1 },
		time.Second, 5*time.Millisecond)
	counts := model.counts()
	require.Equal(t, 1, counts[0])
	require.Equal(t, 1, counts[1])
	require.Zero(t, counts[3])

	seen, err := env.store.Query(context.Background(), testRef, "bob", nil, 20)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	require.Equal(t, "hello", seen[0].Content)
}

// Tests that the peer receives an approved message once, marks it delivered,
// and marks it read only when the conversation becomes visible and focused.
func TestPipeline_Receipts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.open(t, "alice", env.deps(), nil)
	bob := env.open(t, "bob", env.deps(), nil)

	_, err := alice.Send(ctx, "are you there?", nil)
	require.NoError(t, err)

	waitFor(t, bob, func(m []conversation.Message) bool { return len(m) == 1 })
	waitFor(t, alice, func(m []conversation.Message) bool {
		return len(m) == 1 && m[0].DeliveryStatus == conversation.Delivered
	})

	require.NoError(t, bob.SetVisibility(ctx, true, false))
	unread, err := env.store.CountUnread(ctx, testRef, "bob")
	require.NoError(t, err)
	require.EqualValues(t, 1, unread)

	require.NoError(t, bob.SetVisibility(ctx, true, true))
	messages := waitFor(t, alice, func(m []conversation.Message) bool {
		return len(m) == 1 && m[0].DeliveryStatus == conversation.Read
	})
	require.NotNil(t, messages[0].ReadAt)

	agg, err := env.store.GetUnread(ctx, testRef, "bob")
	require.NoError(t, err)
	require.Zero(t, agg.Count)
	require.NotNil(t, agg.LastReadAt)

	// While active, new messages are read on arrival.
	_, err = alice.Send(ctx, "great", nil)
	require.NoError(t, err)
	waitFor(t, alice, func(m []conversation.Message) bool {
		return len(m) == 2 && m[1].DeliveryStatus == conversation.Read
	})
	require.Len(t, bob.Messages(), 2)
}

// Tests that a rejected message stays with its sender, marked rejected with a
// notice, and never reaches the peer.
func TestPipeline_Send_Rejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.open(t, "alice", env.deps(), nil)
	bob := env.open(t, "bob", env.deps(), nil)

	_, err := alice.Send(ctx, "something bad", nil)
	require.NoError(t, err)

	messages := waitFor(t, alice, func(m []conversation.Message) bool {
		return len(m) == 1 && m[0].DeliveryStatus == conversation.Rejected
	})
	require.Equal(t, "offensive", messages[0].RejectionReason)

	require.Eventually(t, func() bool {
		_, ok := env.notices.find(event.TypeRejected)
		return ok
	}, time.Second, 5*time.Millisecond)
	notice, _ := env.notices.find(event.TypeRejected)
	require.Equal(t, "offensive", notice.Details)

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, bob.Messages())
	seen, err := env.store.Query(ctx, testRef, "bob", nil, 20)
	require.NoError(t, err)
	require.Empty(t, seen)

	unread, err := env.store.CountUnread(ctx, testRef, "bob")
	require.NoError(t, err)
	require.Zero(t, unread)

	require.Eventually(t, func() bool {
		status, err := env.tracker.Status(ctx, "alice")
		return err == nil && status.Record.ViolationCount == 1
	}, time.Second, 5*time.Millisecond)
}

// Scenario: the fifth violation at T blocks until T+5m; a send at T+4m is
// refused with about a minute left and writes nothing, a send at T+6m goes
// through.
func TestPipeline_Send_Blocked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := env.tracker.RecordViolation(ctx, "alice")
		require.NoError(t, err)
	}
	alice := env.open(t, "alice", env.deps(), nil)

	env.clock.Add(4 * time.Minute)
	_, err := alice.Send(ctx, "let me in", nil)
	require.True(t, errors.Is(err, conversation.ErrBlocked))
	var blocked *conversation.BlockedError
	require.True(t, errors.As(err, &blocked))
	require.Equal(t, time.Minute, blocked.Remaining)
	require.Empty(t, alice.Messages())

	rows, err := env.store.Query(ctx, testRef, "alice", nil, 20)
	require.NoError(t, err)
	require.Empty(t, rows)

	env.clock.Add(2 * time.Minute)
	_, err = alice.Send(ctx, "let me in", nil)
	require.NoError(t, err)
}

// Error path: empty sends are refused locally.
func TestPipeline_Send_Empty(t *testing.T) {
	env := newTestEnv(t)
	alice := env.open(t, "alice", env.deps(), nil)

	_, err := alice.Send(context.Background(), "   ", nil)
	require.True(t, errors.Is(err, conversation.ErrValidation))
	require.Equal(t, conversation.ErrEmptyMessage, err)
}

// failingStore fails every Append.
type failingStore struct {
	MessageStore
}

func (failingStore) Append(context.Context, conversation.Message) (
	conversation.Message, error) {
	return conversation.Message{}, errors.New("connection reset")
}

// Error path: a failed write removes the optimistic message, deletes the
// uploaded attachment and surfaces a retryable failure.
func TestPipeline_Send_PersistFailure(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	files, err := attachment.NewDir(dir, "/files")
	require.NoError(t, err)

	deps := env.deps()
	deps.Store = failingStore{MessageStore: env.store}
	deps.Files = files
	model := &modelRecorder{}
	alice := env.open(t, "alice", deps, model)

	_, err = alice.Send(context.Background(), "see attached",
		&Upload{Data: []byte("%PDF"), ContentType: "application/pdf",
			Name: "offer.pdf"})
	require.True(t, errors.Is(err, conversation.ErrPersistFailure))
	require.True(t, conversation.IsRetryable(err))
	require.Empty(t, alice.Messages())
	require.Equal(t, [4]int{1, 0, 0, 1}, model.counts())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)

	_, ok := env.notices.find(event.TypeSendFailed)
	require.True(t, ok)
}

// blockingStorage blocks uploads until released.
type blockingStorage struct {
	attachment.Storage
	started chan struct{}
	release chan struct{}
	fail    bool
}

func (b *blockingStorage) Upload(context.Context, []byte, string) (
	string, error) {
	close(b.started)
	<-b.release
	if b.fail {
		return "", errors.New("bucket unavailable")
	}
	return "/files/x.png", nil
}

// Tests that a second send while one is in flight is refused, and that a
// failed upload rolls back the optimistic message.
func TestPipeline_Send_SingleFlight(t *testing.T) {
	env := newTestEnv(t)
	files := &blockingStorage{started: make(chan struct{}),
		release: make(chan struct{}), fail: true}
	deps := env.deps()
	deps.Files = files
	alice := env.open(t, "alice", deps, nil)

	errCh := make(chan error)
	go func() {
		_, err := alice.Send(context.Background(), "",
			&Upload{Data: []byte{1}, ContentType: "image/png"})
		errCh <- err
	}()
	<-files.started
	require.Len(t, alice.Messages(), 1)
	require.Equal(t, conversation.Sending, alice.Messages()[0].DeliveryStatus)

	_, err := alice.Send(context.Background(), "double click", nil)
	require.Equal(t, conversation.ErrSendInFlight, err)

	close(files.release)
	err = <-errCh
	require.True(t, errors.Is(err, conversation.ErrUploadFailure))
	require.Empty(t, alice.Messages())
}

// slowStore blocks the first older-page query until released.
type slowStore struct {
	MessageStore
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowStore) Query(ctx context.Context, ref conversation.Ref,
	viewer string, before *store.Cursor, limit int) (
	[]conversation.Message, error) {
	if before != nil {
		s.once.Do(func() {
			close(s.started)
			<-s.release
		})
	}
	return s.MessageStore.Query(ctx, ref, viewer, before, limit)
}

// Tests that loading the same page twice while the first fetch runs is a
// no-op.
func TestPipeline_LoadMore_InFlight(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		_, err := env.store.Append(ctx, conversation.Message{
			ConversationID: testRef.ID, Kind: testRef.Kind,
			SenderID: "alice", Content: "m" + strconv.Itoa(i)})
		require.NoError(t, err)
		env.clock.Add(time.Second)
	}

	slow := &slowStore{MessageStore: env.store,
		started: make(chan struct{}), release: make(chan struct{})}
	deps := env.deps()
	deps.Store = slow
	alice := env.open(t, "alice", deps, nil)

	done := make(chan Page)
	go func() {
		page, _ := alice.LoadMore(ctx)
		done <- page
	}()
	<-slow.started

	page, err := alice.LoadMore(ctx)
	require.NoError(t, err)
	require.True(t, page.Skipped)

	close(slow.release)
	page = <-done
	require.False(t, page.Skipped)
	require.Equal(t, 5, page.Fetched)
	require.Len(t, alice.Messages(), 25)
}

// Tests that typing signals from the peer reach the other side and clear
// after the receiver timeout.
func TestPipeline_Typing(t *testing.T) {
	env := newTestEnv(t)
	alice := env.open(t, "alice", env.deps(), nil)
	bob := env.open(t, "bob", env.deps(), nil)

	alice.Keystroke()
	require.Eventually(t, func() bool {
		return len(bob.Typing()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"alice"}, bob.Typing())
	require.Empty(t, alice.Typing())

	_, err := alice.Send(context.Background(), "typed it", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(bob.Typing()) == 0
	}, time.Second, 5*time.Millisecond)
}

// serialModel records whether two of its calls ever overlapped.
type serialModel struct {
	inFlight atomic.Int32
	overlap  atomic.Bool
	calls    atomic.Int32
}

func (m *serialModel) enter() {
	if m.inFlight.Add(1) > 1 {
		m.overlap.Store(true)
	}
	time.Sleep(100 * time.Microsecond)
	m.inFlight.Add(-1)
	m.calls.Add(1)
}

func (m *serialModel) MessageAdded(conversation.Message) { m.enter() }

func (m *serialModel) MessageConfirmed(uuid.UUID, conversation.Message) {
	m.enter()
}

func (m *serialModel) MessageUpdated(conversation.Message) { m.enter() }
func (m *serialModel) MessageRemoved(conversation.Message) { m.enter() }

func (m *serialModel) HistoryLoaded([]conversation.Message, bool) {
	m.enter()
}

func (m *serialModel) TypingChanged(string, bool) { m.enter() }

// Tests that local sends, remote events and typing changes never reach the
// model at the same time.
func TestPipeline_ModelCallsSerialized(t *testing.T) {
	env := newTestEnv(t)
	model := &serialModel{}
	alice := env.open(t, "alice", env.deps(), model)
	bob := env.open(t, "bob", env.deps(), nil)
	ctx := context.Background()

	const n = 10
	errCh := make(chan error, 2*n)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_, err := alice.Send(ctx, "a"+strconv.Itoa(i), nil)
			errCh <- err
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			bob.Keystroke()
			_, err := bob.Send(ctx, "b"+strconv.Itoa(i), nil)
			errCh <- err
		}
	}()
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	waitFor(t, alice, func(m []conversation.Message) bool {
		if len(m) != 2*n {
			return false
		}
		for _, msg := range m {
			if msg.ModerationStatus != conversation.ModerationApproved {
				return false
			}
		}
		return true
	})
	require.Greater(t, model.calls.Load(), int32(2*n))
	require.False(t, model.overlap.Load())
}
