package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// wsRequest is a client → server control frame.
type wsRequest struct {
	// Op is one of "subscribe", "unsubscribe", "credits".
	Op string `json:"op"`
	// Topics for subscribe/unsubscribe.
	Topics []string `json:"topics,omitempty"`
	// Credits to grant for op "credits".
	Credits int64 `json:"credits,omitempty"`
}

// wsError is a server → client error frame.
type wsError struct {
	Error string `json:"error"`
}

// WSBridge exposes the broker over WebSocket. Each connection gets its
// own subscriber; events flow server → client as JSON text frames, and
// the client sends subscribe/unsubscribe/credits control frames.
//
// Mount it on any mux:
//
//	http.Handle("/stream", stream.NewWSBridge(broker, logger))
type WSBridge struct {
	broker *Broker
	logger *slog.Logger
	seq    atomic.Int64
}

// NewWSBridge creates a WebSocket bridge over the broker.
func NewWSBridge(broker *Broker, logger *slog.Logger) *WSBridge {
	return &WSBridge{broker: broker, logger: logger}
}

// ServeHTTP implements http.Handler.
func (b *WSBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	subID := fmt.Sprintf("ws-%d", b.seq.Add(1))
	sub := b.broker.Subscribe(subID)

	b.logger.Info("stream client connected", slog.String("subscriber", subID))

	// The event pump and the control loop both write to the socket.
	var writeMu sync.Mutex
	writeText := func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return wsutil.WriteServerText(conn, data)
	}
	writeError := func(msg string) {
		data, err := json.Marshal(wsError{Error: msg})
		if err != nil {
			return
		}
		if err := writeText(data); err != nil {
			b.logger.Debug("stream error frame dropped", slog.String("error", err.Error()))
		}
	}

	// Writer: pump broker events to the socket.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range sub.C() {
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if err := writeText(data); err != nil {
				return
			}
		}
	}()

	// Reader: handle control frames until the client goes away.
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			break
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			writeError("malformed request")
			continue
		}

		switch req.Op {
		case "subscribe":
			for _, topic := range req.Topics {
				if err := ValidateTopic(topic); err != nil {
					writeError(err.Error())
					continue
				}
				b.broker.SubscribeTo(subID, topic)
			}
		case "unsubscribe":
			b.broker.Unsubscribe(subID, req.Topics...)
		case "credits":
			if req.Credits > 0 {
				sub.AddCredits(req.Credits)
			}
		default:
			writeError(fmt.Sprintf("unknown op %q", req.Op))
		}
	}

	// Closing the subscriber ends the event pump.
	b.broker.RemoveSubscriber(subID)
	<-done
	conn.Close()
	b.logger.Info("stream client disconnected", slog.String("subscriber", subID))
}
