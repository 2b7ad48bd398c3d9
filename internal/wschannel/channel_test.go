package wschannel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/backoff"
	"github.com/btwld/docling-sdk-sub000/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) handle(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func (r *recorder) count(kind domain.EventKind) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) terminal() (domain.Event, bool) {
	for _, ev := range r.snapshot() {
		if ev.Terminal() {
			return ev, true
		}
	}
	return domain.Event{}, false
}

// wsServer upgrades every request and hands the connection to handle with its 1-based sequence number.
// Requests for which reject returns true are answered with 500 instead.
func wsServer(t *testing.T, reject func(n int) bool, handle func(conn *websocket.Conn, n int)) (string, *atomic.Int32) {
	t.Helper()

	var count atomic.Int32
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(count.Add(1))
		if reject != nil && reject(n) {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, n)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), &count
}

func send(t *testing.T, conn *websocket.Conn, frames ...string) {
	t.Helper()
	for _, f := range frames {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(f)))
	}
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.ConnectTimeout = time.Second
	opts.HeartbeatInterval = 0
	opts.Reconnect = backoff.Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 40 * time.Millisecond}
	return opts
}

func newChannel(t *testing.T, url string, opts Options) (*Channel, *recorder) {
	t.Helper()
	rec := &recorder{}
	ch := New("task-1", url, rec.handle, opts)
	t.Cleanup(ch.Disconnect)
	return ch, rec
}

func waitDone(t *testing.T, ch *Channel) {
	t.Helper()
	select {
	case <-ch.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("channel did not stop")
	}
}

func TestChannel_UpdatesUntilSuccess(t *testing.T) {
	url, _ := wsServer(t, nil, func(conn *websocket.Conn, _ int) {
		send(t, conn,
			`{"message":"connection","task":{"task_id":"task-1","task_status":"pending","task_position":2}}`,
			`{"message":"update","task":{"task_id":"task-1","task_status":"started"}}`,
			`{"message":"update","task":{"task_id":"task-1","task_status":"started"}}`,
			`{"message":"update","task":{"task_id":"task-1","task_status":"success"}}`,
		)
		drain(conn)
	})

	ch, rec := newChannel(t, url, testOptions())
	require.NoError(t, ch.Connect(context.Background()))
	waitDone(t, ch)

	assert.Equal(t, 4, rec.count(domain.EventProgress))
	assert.Equal(t, 3, rec.count(domain.EventStatus))
	assert.Equal(t, 1, rec.count(domain.EventComplete))
	assert.Equal(t, 0, rec.count(domain.EventError))

	events := rec.snapshot()
	last := events[len(events)-1]
	assert.Equal(t, domain.EventComplete, last.Kind)
	require.NotNil(t, last.Result)
	assert.Equal(t, domain.JobStatusSuccess, last.Result.FinalStatus)

	for _, ev := range events {
		assert.Equal(t, domain.SourcePush, ev.Source)
	}
	assert.Equal(t, StateDisconnected, ch.State())
}

func TestChannel_ErrorNoticeIsTerminal(t *testing.T) {
	url, _ := wsServer(t, nil, func(conn *websocket.Conn, _ int) {
		send(t, conn, `{"message":"error","error":"worker crashed"}`)
		drain(conn)
	})

	ch, rec := newChannel(t, url, testOptions())
	require.NoError(t, ch.Connect(context.Background()))
	waitDone(t, ch)

	ev, ok := rec.terminal()
	require.True(t, ok)
	assert.Equal(t, domain.EventError, ev.Kind)
	assert.ErrorIs(t, ev.Err, domain.ErrJobFailed)
	assert.Equal(t, domain.JobStatusFailure, ev.Result.FinalStatus)
}

func TestChannel_ProtocolErrorsEscalate(t *testing.T) {
	url, _ := wsServer(t, nil, func(conn *websocket.Conn, _ int) {
		send(t, conn,
			`garbage`,
			`{"message":"update","task":{"task_id":"task-1","task_status":"pending"}}`,
			`{"message":"mystery"}`,
			`{"message":"mystery"}`,
		)
		drain(conn)
	})

	opts := testOptions()
	opts.ProtocolErrorThreshold = 2
	ch, rec := newChannel(t, url, opts)
	require.NoError(t, ch.Connect(context.Background()))
	waitDone(t, ch)

	// the valid update resets the streak, so only the last frame escalates
	assert.Equal(t, 2, rec.count(domain.EventDiagnostic))
	ev, ok := rec.terminal()
	require.True(t, ok)
	assert.ErrorIs(t, ev.Err, domain.ErrProtocol)
	assert.Equal(t, domain.ErrorKindProtocol, domain.KindOf(ev.Err))
}

func TestChannel_ConnectFailureIsNotRetried(t *testing.T) {
	url, count := wsServer(t, func(int) bool { return true }, func(*websocket.Conn, int) {})

	ch, rec := newChannel(t, url, testOptions())
	err := ch.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransport)

	waitDone(t, ch)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(1), count.Load())
	assert.Empty(t, rec.snapshot())
	assert.Equal(t, StateError, ch.State())
}

func TestChannel_ReconnectsAfterDrop(t *testing.T) {
	url, count := wsServer(t, nil, func(conn *websocket.Conn, n int) {
		if n == 1 {
			send(t, conn, `{"message":"connection","task":{"task_id":"task-1","task_status":"started"}}`)
			return
		}
		send(t, conn, `{"message":"update","task":{"task_id":"task-1","task_status":"success"}}`)
		drain(conn)
	})

	ch, rec := newChannel(t, url, testOptions())
	require.NoError(t, ch.Connect(context.Background()))
	waitDone(t, ch)

	ev, ok := rec.terminal()
	require.True(t, ok)
	assert.Equal(t, domain.EventComplete, ev.Kind)
	assert.Equal(t, int32(2), count.Load())
}

func TestChannel_ReconnectBudgetResetsAfterReconnect(t *testing.T) {
	url, count := wsServer(t, nil, func(conn *websocket.Conn, n int) {
		switch n {
		case 1:
			send(t, conn, `{"message":"connection","task":{"task_id":"task-1","task_status":"pending"}}`)
		case 2:
			send(t, conn, `{"message":"update","task":{"task_id":"task-1","task_status":"started"}}`)
		default:
			send(t, conn, `{"message":"update","task":{"task_id":"task-1","task_status":"success"}}`)
			drain(conn)
		}
	})

	opts := testOptions()
	opts.Reconnect.MaxAttempts = 1
	ch, rec := newChannel(t, url, opts)
	require.NoError(t, ch.Connect(context.Background()))
	waitDone(t, ch)

	// each drop gets a fresh single-attempt budget
	ev, ok := rec.terminal()
	require.True(t, ok)
	assert.Equal(t, domain.EventComplete, ev.Kind)
	assert.Equal(t, domain.JobStatusSuccess, ev.Result.FinalStatus)
	assert.Equal(t, int32(3), count.Load())
	assert.Equal(t, 3, rec.count(domain.EventProgress))
}

func TestChannel_ReconnectBudgetExhausted(t *testing.T) {
	url, count := wsServer(t, func(n int) bool { return n > 1 }, func(conn *websocket.Conn, _ int) {
		send(t, conn, `{"message":"connection","task":{"task_id":"task-1","task_status":"pending"}}`)
	})

	opts := testOptions()
	opts.Reconnect.MaxAttempts = 2
	ch, rec := newChannel(t, url, opts)
	require.NoError(t, ch.Connect(context.Background()))
	waitDone(t, ch)

	ev, ok := rec.terminal()
	require.True(t, ok)
	assert.Equal(t, domain.EventError, ev.Kind)
	assert.ErrorIs(t, ev.Err, domain.ErrTransport)
	assert.Equal(t, domain.JobStatusFailure, ev.Result.FinalStatus)
	assert.Equal(t, int32(3), count.Load())
}

func TestChannel_DisconnectSuppressesEvents(t *testing.T) {
	release := make(chan struct{})
	url, count := wsServer(t, nil, func(conn *websocket.Conn, _ int) {
		send(t, conn, `{"message":"connection","task":{"task_id":"task-1","task_status":"pending"}}`)
		<-release
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"message":"update","task":{"task_id":"task-1","task_status":"success"}}`))
		drain(conn)
	})

	ch, rec := newChannel(t, url, testOptions())
	require.NoError(t, ch.Connect(context.Background()))

	require.Eventually(t, func() bool { return rec.count(domain.EventProgress) == 1 }, 2*time.Second, 5*time.Millisecond)

	ch.Disconnect()
	close(release)
	waitDone(t, ch)
	time.Sleep(50 * time.Millisecond)

	_, ok := rec.terminal()
	assert.False(t, ok)
	assert.Equal(t, 1, rec.count(domain.EventProgress))
	assert.Equal(t, int32(1), count.Load())
	assert.Equal(t, StateDisconnected, ch.State())
}

func TestChannel_Heartbeat(t *testing.T) {
	pings := make(chan string, 4)
	url, _ := wsServer(t, nil, func(conn *websocket.Conn, _ int) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case pings <- string(data):
			default:
			}
		}
	})

	opts := testOptions()
	opts.HeartbeatInterval = 10 * time.Millisecond
	ch, _ := newChannel(t, url, opts)
	require.NoError(t, ch.Connect(context.Background()))

	select {
	case ping := <-pings:
		assert.JSONEq(t, `{"message":"ping"}`, ping)
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat received")
	}
}
