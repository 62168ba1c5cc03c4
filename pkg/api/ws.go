package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/bastionhq/bastion/pkg/console"
	"github.com/bastionhq/bastion/pkg/protocol"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// wsConn adapts a websocket to the registry's connection interface
type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Send(ctx context.Context, v interface{}) error {
	return wsjson.Write(ctx, w.c, v)
}

func (w *wsConn) Ping(ctx context.Context) error {
	return w.c.Ping(ctx)
}

func (w *wsConn) Close(code int, reason string) error {
	return w.c.Close(websocket.StatusCode(code), reason)
}

// handleDaemonSocket is the persistent socket a node's daemon opens.
// The registry owns all connection state; this handler just pumps
// frames into it until the socket dies.
func (s *Server) handleDaemonSocket(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("node")
	if _, err := s.store.GetNode(nodeID); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Str("node_id", nodeID).Msg("daemon websocket accept failed")
		return
	}

	s.registry.OnConnect(nodeID, &wsConn{c: c})
	defer s.registry.OnDisconnect(nodeID)
	defer c.CloseNow()

	ctx := r.Context()
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				s.logger.Debug().Err(err).Str("node_id", nodeID).Msg("daemon socket read failed")
			}
			return
		}
		s.registry.HandleMessage(ctx, nodeID, data)
	}
}

// wsSession adapts a browser websocket to the console relay's session
// interface
type wsSession struct {
	id   string
	user console.Identity
	c    *websocket.Conn
}

func (s *wsSession) ID() string             { return s.id }
func (s *wsSession) User() console.Identity { return s.user }

func (s *wsSession) Send(ctx context.Context, ev protocol.Event) error {
	return wsjson.Write(ctx, s.c, ev)
}

// handleConsoleSocket is the browser-facing console stream. The bearer
// token from the query string identifies the requester; the relay
// enforces console authorization on top of that.
func (s *Server) handleConsoleSocket(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("id")
	token := r.URL.Query().Get("token")

	user, err := s.tokens.Validate(token, serverID)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err)
		return
	}

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Str("server_id", serverID).Msg("console websocket accept failed")
		return
	}
	defer c.CloseNow()

	session := &wsSession{id: uuid.NewString(), user: user, c: c}

	ctx := r.Context()
	if err := s.relay.Subscribe(ctx, serverID, session); err != nil {
		_ = c.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	defer s.relay.Unsubscribe(session)

	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		if err := s.relay.HandleClientMessage(ctx, session, data); err != nil {
			s.logger.Debug().Err(err).Str("server_id", serverID).Msg("console message rejected")
		}
	}
}

// handleEventSocket streams panel events (node connectivity, schedule
// runs, backups) to admin dashboards
func (s *Server) handleEventSocket(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		s.writeError(w, http.StatusNotImplemented, errors.New("event stream disabled"))
		return
	}

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.CloseNow()

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, c, ev); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
