package btcwatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IngarsPoliters/coldDrawer/swap"
	"github.com/gorilla/websocket"
)

const (
	// wsHandshakeTimeout bounds the websocket dial.
	wsHandshakeTimeout = 10 * time.Second

	// wsReconnectBase is the initial reconnect delay, doubled on every
	// reconnect up to wsReconnectMax. The delay is not reset after a
	// connection that succeeded.
	wsReconnectBase = time.Second
	wsReconnectMax  = 30 * time.Second
)

// wsRequest is an outgoing subscription message.
type wsRequest struct {
	Op   string `json:"op"`
	Addr string `json:"addr,omitempty"`
}

// wsTxOut is one output in a pushed transaction notification. Values arrive
// btc-denominated from the feed.
type wsTxOut struct {
	Addr  string  `json:"addr"`
	Value float64 `json:"value"`
}

// wsTx is a pushed transaction notification.
type wsTx struct {
	Hash string    `json:"hash"`
	Out  []wsTxOut `json:"out"`
}

// wsMessage is an incoming feed message.
type wsMessage struct {
	Op string `json:"op"`
	X  wsTx   `json:"x"`
}

// WSFeed is the push complement to the polling observer. It subscribes to
// the watched addresses and hints observed txids into the observer's
// idempotent pipeline; polls remain the source of truth.
type WSFeed struct {
	url      string
	observer *Observer
}

// NewWSFeed creates a feed for the given websocket endpoint.
func NewWSFeed(url string, observer *Observer) *WSFeed {
	return &WSFeed{
		url:      url,
		observer: observer,
	}
}

// Run maintains the websocket connection until the context is cancelled.
// Connection failures reconnect with exponential backoff; the poll loop
// covers any gap.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := wsReconnectBase

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Warnf("websocket feed: %v, reconnecting in %v", err,
			backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if backoff > wsReconnectMax {
			backoff = wsReconnectMax
		}
	}
}

// connectAndRead dials the feed, subscribes the watched addresses and
// consumes notifications until the connection breaks.
func (f *WSFeed) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Infof("websocket feed connected to %v", f.url)

	for _, addr := range f.observer.WatchedAddresses() {
		err := conn.WriteJSON(wsRequest{Op: "addr_sub", Addr: addr})
		if err != nil {
			return err
		}
	}

	// Close the connection when the context ends so the blocking read
	// below returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg wsMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Debugf("websocket feed: undecodable message: %v",
				err)

			continue
		}

		if msg.Op != "utx" || msg.X.Hash == "" {
			continue
		}

		for _, out := range msg.X.Out {
			amt, err := swap.SatoshisFromBtc(out.Value)
			if err != nil {
				continue
			}

			log.Debugf("push tx %v pays %v to %v", msg.X.Hash,
				amt, out.Addr)
		}

		f.observer.PushTxid(msg.X.Hash)
	}
}
