package nostr

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Nostr client-to-relay message kinds (NIP-01).
const (
	msgEvent = "EVENT"
	msgReq   = "REQ"
	msgClose = "CLOSE"
)

const (
	retryIncrement = 5 * time.Second
	maxRetryDelay  = 2 * time.Minute
)

// relay manages one websocket connection to a single relay URL,
// reconnecting with linearly increasing backoff on failure — the same
// shape as minclient's connectWorker/doConnect retry loop, adapted from
// a single mix-link TCP dial to a wss:// relay socket.
type relay struct {
	url        string
	subID      string
	onEvent    func(Event)
	retryDelay int64 // atomic time.Duration

	conn atomic.Pointer[websocket.Conn]
}

func newRelay(url, subID string, onEvent func(Event)) *relay {
	return &relay{url: url, subID: subID, onEvent: onEvent}
}

// run dials and reads from the relay until ctx is canceled, reconnecting
// with backoff between attempts.
func (r *relay) run(ctx context.Context, filter json.RawMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.url, nil)
		if err != nil {
			r.sleepBackoff(ctx)
			continue
		}
		r.conn.Store(conn)
		atomic.StoreInt64(&r.retryDelay, 0)

		if err := r.subscribe(conn, filter); err != nil {
			conn.Close()
			r.sleepBackoff(ctx)
			continue
		}

		r.readLoop(ctx, conn)
		conn.Close()
		r.conn.Store(nil)

		select {
		case <-ctx.Done():
			return
		default:
			r.sleepBackoff(ctx)
		}
	}
}

func (r *relay) sleepBackoff(ctx context.Context) {
	delay := time.Duration(atomic.LoadInt64(&r.retryDelay))
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
	atomic.AddInt64(&r.retryDelay, int64(retryIncrement))
	if atomic.LoadInt64(&r.retryDelay) > int64(maxRetryDelay) {
		atomic.StoreInt64(&r.retryDelay, int64(maxRetryDelay))
	}
}

func (r *relay) subscribe(conn *websocket.Conn, filter json.RawMessage) error {
	msg := []interface{}{msgReq, r.subID, filter}
	return conn.WriteJSON(msg)
}

func (r *relay) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame []json.RawMessage
		if err := json.Unmarshal(raw, &frame); err != nil || len(frame) < 2 {
			continue
		}
		var label string
		if err := json.Unmarshal(frame[0], &label); err != nil || label != msgEvent {
			continue
		}
		idx := 1
		if len(frame) >= 3 {
			idx = 2 // [ "EVENT", subID, event ]
		}
		var evt Event
		if err := json.Unmarshal(frame[idx], &evt); err != nil {
			continue
		}
		r.onEvent(evt)
	}
}

// publish writes evt to the relay if currently connected. Returns false
// if there is no live connection (the caller should rely on another
// relay in the pool, or queue via the Router).
func (r *relay) publish(evt Event) bool {
	conn := r.conn.Load()
	if conn == nil {
		return false
	}
	msg := []interface{}{msgEvent, evt}
	return conn.WriteJSON(msg) == nil
}
