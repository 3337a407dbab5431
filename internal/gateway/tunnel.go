package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const closeWait = time.Second

// Tunnel relays WebSocket messages between a client and a backend.
type Tunnel struct {
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewTunnel creates a tunnel whose backend handshake is bounded by handshakeTimeout.
func NewTunnel(handshakeTimeout time.Duration, logger zerolog.Logger) *Tunnel {
	return &Tunnel{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		timeout: handshakeTimeout,
		logger:  logger.With().Str("component", "tunnel").Logger(),
	}
}

// Serve upgrades the client, connects to backendURL and relays messages in
// both directions until either side goes away. It returns after both relay
// loops have exited.
func (t *Tunnel) Serve(w http.ResponseWriter, r *http.Request, backendURL string) {
	client, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		t.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), t.timeout)
	backend, resp, err := t.dialer.DialContext(ctx, backendURL, nil)
	cancel()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.logger.Error().Err(err).Str("backend", backendURL).Msg("backend websocket dial failed")
		closeWith(client, websocket.CloseInternalServerErr, "backend unavailable")
		client.Close()
		return
	}

	t.logger.Debug().Str("backend", backendURL).Msg("tunnel opened")

	var once sync.Once
	shutdown := func(code int, text string) {
		once.Do(func() {
			closeWith(client, code, text)
			closeWith(backend, code, text)
			client.Close()
			backend.Close()
		})
	}

	var g errgroup.Group
	g.Go(func() error {
		err := relay(backend, client)
		shutdown(closeCode(err), "")
		return err
	})
	g.Go(func() error {
		err := relay(client, backend)
		shutdown(closeCode(err), "")
		return err
	})

	err = g.Wait()
	t.logger.Debug().Err(err).Str("backend", backendURL).Msg("tunnel closed")
}

// relay copies messages from src to dst, one at a time, preserving their type.
func relay(dst, src *websocket.Conn) error {
	for {
		messageType, data, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(messageType, data); err != nil {
			return err
		}
	}
}

// closeCode passes a peer's close code through, defaulting to a normal closure.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code != websocket.CloseNoStatusReceived && ce.Code != websocket.CloseAbnormalClosure {
		return ce.Code
	}
	return websocket.CloseNormalClosure
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(closeWait))
}
