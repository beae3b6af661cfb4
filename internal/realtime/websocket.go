package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tallyhr/accesscore/internal/access"
	"github.com/tallyhr/accesscore/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	redialBase     = time.Second
	redialCap      = 30 * time.Second
	maxMessageSize = 4096
)

// WebsocketFeed consumes invalidation events from a remote policy service over
// a websocket connection and fans them out to local subscribers. The
// connection is owned by Run; subscriptions work whether or not the socket is
// currently up.
type WebsocketFeed struct {
	url    string
	dialer *websocket.Dialer
	local  *LocalFeed
	log    *zap.Logger
}

// NewWebsocketFeed constructs a feed reading from url. Call Run to start the
// read loop.
func NewWebsocketFeed(url string) *WebsocketFeed {
	return &WebsocketFeed{
		url:    url,
		dialer: websocket.DefaultDialer,
		local:  NewLocalFeed(),
		log:    logger.WithModule("realtime.websocket"),
	}
}

// Subscribe registers callbacks for the user's invalidation events.
func (f *WebsocketFeed) Subscribe(ctx context.Context, userID string, onChange func(access.InvalidationEvent), onError func(error)) (func(), error) {
	return f.local.Subscribe(ctx, userID, onChange, onError)
}

// Run dials the remote feed and pumps events until ctx is cancelled. Dropped
// connections are redialed with exponential backoff; read errors are surfaced
// to subscribers without detaching them.
func (f *WebsocketFeed) Run(ctx context.Context) {
	backoff := redialBase
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
		if err != nil {
			f.log.Warn("feed dial failed", zap.String("url", f.url), zap.Error(err))
			f.local.PublishError(err)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = redialBase
		f.log.Info("feed connected", zap.String("url", f.url))
		f.readPump(ctx, conn)
	}
}

func (f *WebsocketFeed) readPump(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				f.log.Warn("feed read failed", zap.Error(err))
				f.local.PublishError(err)
			}
			return
		}

		var event access.InvalidationEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			f.log.Warn("feed frame malformed", zap.Error(err))
			continue
		}
		if event.UserID == "" {
			continue
		}
		f.local.Publish(event)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > redialCap {
		return redialCap
	}
	return next
}
