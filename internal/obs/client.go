package obs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Session is an identified connection to OBS. Call is safe for concurrent use,
// but the Controller never issues overlapping calls anyway.
type Session interface {
	// Call sends one request and decodes responseData into out (which may be
	// nil). A failed request status is returned as *RequestError.
	Call(ctx context.Context, requestType string, data any, out any) error
	Close() error
}

// Dialer opens a Session. Implementations must honour ctx's deadline for the
// whole handshake.
type Dialer interface {
	Dial(ctx context.Context, host string, port int, password string) (Session, error)
}

// WebsocketDialer speaks obs-websocket v5 over gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

// NewWebsocketDialer returns a dialer using websocket.DefaultDialer settings.
func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{Dialer: websocket.DefaultDialer}
}

func (d *WebsocketDialer) Dial(ctx context.Context, host string, port int, password string) (Session, error) {
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, strconv.Itoa(port))}

	wsDialer := d.Dialer
	if wsDialer == nil {
		wsDialer = websocket.DefaultDialer
	}
	conn, _, err := wsDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}

	if err := identifySession(ctx, conn, password); err != nil {
		conn.Close()
		return nil, err
	}

	s := &wsSession{
		conn:    conn,
		pending: make(map[string]chan requestResponse),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// identifySession runs the Hello/Identify/Identified exchange.
func identifySession(ctx context.Context, conn *websocket.Conn, password string) error {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
		defer func() {
			conn.SetReadDeadline(time.Time{})
			conn.SetWriteDeadline(time.Time{})
		}()
	}

	var msg message
	if err := readMessage(conn, &msg); err != nil {
		return fmt.Errorf("waiting for hello: %w", err)
	}
	if msg.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", msg.Op)
	}
	var h hello
	if err := json.Unmarshal(msg.D, &h); err != nil {
		return fmt.Errorf("failed to decode hello: %w", err)
	}

	id := identify{RPCVersion: rpcVersion}
	if h.Authentication != nil {
		id.Authentication = authResponse(password, h.Authentication.Salt, h.Authentication.Challenge)
	}
	if err := conn.WriteJSON(outgoing{Op: opIdentify, D: id}); err != nil {
		return fmt.Errorf("failed to send identify: %w", err)
	}

	if err := readMessage(conn, &msg); err != nil {
		return fmt.Errorf("waiting for identified: %w", err)
	}
	if msg.Op != opIdentified {
		return fmt.Errorf("expected identified, got op %d", msg.Op)
	}
	log.Debug().Str("obs_websocket_version", h.OBSWebSocketVersion).Msg("obs session identified")
	return nil
}

func readMessage(conn *websocket.Conn, msg *message) error {
	_, data, err := conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) && ce.Code == closeAuthFailed {
			return fmt.Errorf("%w: %s", ErrAuthFailed, ce.Text)
		}
		return err
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("malformed message: %w", err)
	}
	return nil
}

// wsSession routes request responses to waiting callers by request id.
type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan requestResponse
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

func (s *wsSession) readLoop() {
	for {
		var msg message
		if err := readMessage(s.conn, &msg); err != nil {
			s.fail(err)
			return
		}
		switch msg.Op {
		case opRequestResponse:
			var resp requestResponse
			if err := json.Unmarshal(msg.D, &resp); err != nil {
				log.Warn().Err(err).Msg("dropping malformed obs request response")
				continue
			}
			s.mu.Lock()
			ch, ok := s.pending[resp.RequestID]
			delete(s.pending, resp.RequestID)
			s.mu.Unlock()
			if ok {
				ch <- resp
			}
		case opEvent:
			// not subscribed to any event category
		default:
			log.Debug().Int("op", msg.Op).Msg("ignoring obs message")
		}
	}
}

func (s *wsSession) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *wsSession) Call(ctx context.Context, requestType string, data any, out any) error {
	id := uuid.NewString()
	ch := make(chan requestResponse, 1)

	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	s.pending[id] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	s.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
	}
	err := s.conn.WriteJSON(outgoing{Op: opRequest, D: request{RequestType: requestType, RequestID: id, RequestData: data}})
	s.conn.SetWriteDeadline(time.Time{})
	s.writeMu.Unlock()
	if err != nil {
		// a failed write leaves the websocket unusable
		s.fail(err)
		s.conn.Close()
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}

	select {
	case resp := <-ch:
		if !resp.RequestStatus.Result {
			return &RequestError{
				RequestType: requestType,
				Code:        resp.RequestStatus.Code,
				Comment:     resp.RequestStatus.Comment,
			}
		}
		if out != nil && len(resp.ResponseData) > 0 {
			if err := json.Unmarshal(resp.ResponseData, out); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", requestType, err)
			}
		}
		return nil
	case <-s.done:
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *wsSession) Close() error {
	s.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.writeMu.Unlock()

	s.fail(ErrSessionClosed)
	return s.conn.Close()
}
