package watcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	kafkaLib "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/reconciler"
)

var fastRetry = Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond}

// fakeHandler records applied messages and returns queued errors in order.
type fakeHandler struct {
	mu     sync.Mutex
	events *[]string
	errs   []error
	calls  []string
}

func newFakeHandler(events *[]string, errs ...error) *fakeHandler {
	return &fakeHandler{events: events, errs: errs}
}

func (h *fakeHandler) next(call string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call)
	if h.events != nil {
		*h.events = append(*h.events, "apply:"+call)
	}
	if len(h.errs) == 0 {
		return nil
	}
	err := h.errs[0]
	h.errs = h.errs[1:]
	return err
}

func (h *fakeHandler) Report(_ context.Context, obs reconciler.Observation) (*domain.DepositObservation, error) {
	return nil, h.next("report:" + obs.TxHash)
}

func (h *fakeHandler) Invalidate(_ context.Context, inv reconciler.Invalidation) (*domain.ReversalProposal, error) {
	return nil, h.next("invalidate:" + inv.TxHash)
}

func (h *fakeHandler) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func quietLogger() *log.Logger {
	return log.New(&bytes.Buffer{}, "", 0)
}

func observationJSON(tx string) string {
	return fmt.Sprintf(`{"network":"bitcoin","tx_hash":%q,"to_address":"addr1","asset":"BTC","amount":"0.5","confirmations":1}`, tx)
}

func invalidationJSON(tx string) string {
	return fmt.Sprintf(`{"type":"invalidate","network":"bitcoin","tx_hash":%q,"to_address":"addr1","reason":"reorg"}`, tx)
}

func TestDecode(t *testing.T) {
	m, err := Decode([]byte(observationJSON("tx1")))
	require.NoError(t, err)
	assert.Equal(t, TypeObservation, m.Type)
	assert.Equal(t, domain.NetworkCode("bitcoin"), m.Network)
	assert.Equal(t, "0.5", m.Amount)
	assert.Equal(t, int64(1), m.Confirmations)

	m, err = Decode([]byte(invalidationJSON("tx1")))
	require.NoError(t, err)
	assert.Equal(t, TypeInvalidate, m.Type)
	assert.Equal(t, reconciler.Invalidation{Network: "bitcoin", TxHash: "tx1", ToAddress: "addr1", Reason: "reorg"}, m.Invalidation())

	bad := []string{
		`not json`,
		`{"type":"mystery","network":"bitcoin","tx_hash":"t","to_address":"a"}`,
		`{"network":"bitcoin","to_address":"a"}`,
	}
	for _, data := range bad {
		_, err := Decode([]byte(data))
		assert.Error(t, err, data)
	}
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, Accepted(nil))
	assert.True(t, Accepted(fmt.Errorf("wrapped: %w", domain.ErrReorgInvalidation)))
	assert.False(t, Accepted(domain.ErrUnknownDepositAddress))

	assert.True(t, Permanent(fmt.Errorf("admit: %w", domain.ErrUnknownDepositAddress)))
	assert.True(t, Permanent(domain.ErrInvalidAmount))
	assert.False(t, Permanent(domain.ErrExternalServiceUnavailable))
	assert.False(t, Permanent(errors.New("connection reset")))
}

func TestProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("transient failure is retried", func(t *testing.T) {
		h := newFakeHandler(nil, errors.New("db down"), errors.New("db down"))
		err := process(ctx, h, []byte(observationJSON("tx1")), "test", fastRetry, quietLogger())
		require.NoError(t, err)
		assert.Len(t, h.Calls(), 3)
	})

	t.Run("permanent rejection is not retried", func(t *testing.T) {
		h := newFakeHandler(nil, domain.ErrUnknownDepositAddress)
		err := process(ctx, h, []byte(observationJSON("tx1")), "test", fastRetry, quietLogger())
		require.NoError(t, err)
		assert.Equal(t, []string{"report:tx1"}, h.Calls())
	})

	t.Run("reorg after credit is accepted", func(t *testing.T) {
		h := newFakeHandler(nil, domain.ErrReorgInvalidation)
		err := process(ctx, h, []byte(invalidationJSON("tx1")), "test", fastRetry, quietLogger())
		require.NoError(t, err)
		assert.Equal(t, []string{"invalidate:tx1"}, h.Calls())
	})

	t.Run("malformed message is dropped", func(t *testing.T) {
		h := newFakeHandler(nil)
		err := process(ctx, h, []byte("{"), "test", fastRetry, quietLogger())
		require.NoError(t, err)
		assert.Empty(t, h.Calls())
	})

	t.Run("cancellation stops retries", func(t *testing.T) {
		h := newFakeHandler(nil, errors.New("down"), errors.New("down"), errors.New("down"))
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := process(cctx, h, []byte(observationJSON("tx1")), "test", fastRetry, quietLogger())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// fakeReader serves msgs in order and cancels the run once drained.
type fakeReader struct {
	mu      sync.Mutex
	msgs    []kafkaLib.Message
	next    int
	events  *[]string
	drained context.CancelFunc
	closed  bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkaLib.Message, error) {
	r.mu.Lock()
	if r.next < len(r.msgs) {
		m := r.msgs[r.next]
		r.next++
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	r.drained()
	<-ctx.Done()
	return kafkaLib.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafkaLib.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		*r.events = append(*r.events, fmt.Sprintf("commit:%d", m.Offset))
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestKafkaFeed_CommitsAfterAccept(t *testing.T) {
	var events []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		msgs: []kafkaLib.Message{
			{Offset: 0, Value: []byte(observationJSON("tx1"))},
			{Offset: 1, Value: []byte("garbage")},
			{Offset: 2, Value: []byte(invalidationJSON("tx2"))},
		},
		events:  &events,
		drained: cancel,
	}
	// tx1 fails once transiently before it is accepted.
	h := newFakeHandler(&events, errors.New("timeout"))

	feed := NewKafkaFeed(reader, h, &fastRetry, quietLogger())
	err := feed.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{
		"apply:report:tx1",
		"apply:report:tx1",
		"commit:0",
		"commit:1",
		"apply:invalidate:tx2",
		"commit:2",
	}, events)
	assert.True(t, reader.closed)
}

func TestKafkaFeed_NoCommitWhileRetrying(t *testing.T) {
	var events []string
	ctx, cancel := context.WithCancel(context.Background())

	reader := &fakeReader{
		msgs:    []kafkaLib.Message{{Offset: 7, Value: []byte(observationJSON("tx1"))}},
		events:  &events,
		drained: cancel,
	}
	down := make([]error, 1000)
	for i := range down {
		down[i] = domain.ErrExternalServiceUnavailable
	}
	h := newFakeHandler(nil, down...)

	done := make(chan error, 1)
	go func() {
		done <- NewKafkaFeed(reader, h, &fastRetry, quietLogger()).Run(ctx)
	}()

	require.Eventually(t, func() bool { return len(h.Calls()) >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
	assert.Empty(t, events, "offset must not be committed before the message is accepted")
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestWSFeed_DispatchAndReconnect(t *testing.T) {
	var connections atomic.Int32
	subscribes := make(chan subscribeRequest, 4)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()
		n := connections.Add(1)

		var req subscribeRequest
		if err := c.ReadJSON(&req); err != nil {
			return
		}
		subscribes <- req

		if n == 1 {
			// First session drops after two messages.
			_ = c.WriteMessage(websocket.TextMessage, []byte(observationJSON("tx1")))
			_ = c.WriteMessage(websocket.TextMessage, []byte(invalidationJSON("tx1")))
			time.Sleep(20 * time.Millisecond)
			return
		}

		_ = c.WriteMessage(websocket.TextMessage, []byte(observationJSON("tx2")))
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	h := newFakeHandler(nil)
	cfg := WSConfig{
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 50 * time.Millisecond,
		PingInterval:      time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      time.Second,
		Retry:             fastRetry,
	}
	feed := NewWSFeed(wsURL, []domain.NetworkCode{"bitcoin"}, h, &cfg, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	require.Eventually(t, func() bool { return len(h.Calls()) == 3 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"report:tx1", "invalidate:tx1", "report:tx2"}, h.Calls())
	assert.True(t, feed.Connected())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
	assert.False(t, feed.Connected())

	// Every connection resubscribes with the configured networks.
	require.GreaterOrEqual(t, len(subscribes), 2)
	for i := 0; i < 2; i++ {
		req := <-subscribes
		assert.Equal(t, "subscribe", req.Action)
		assert.Equal(t, []domain.NetworkCode{"bitcoin"}, req.Networks)
	}
}

func TestWSFeed_StopsWhenUnreachable(t *testing.T) {
	h := newFakeHandler(nil)
	cfg := DefaultWSConfig()
	cfg.ReconnectDelay = 5 * time.Millisecond
	cfg.MaxReconnectDelay = 10 * time.Millisecond
	feed := NewWSFeed("ws://127.0.0.1:1", nil, h, &cfg, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := feed.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, h.Calls())
}
