package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"shelf/internal/engine"
	"shelf/pkg/logging"
	"shelf/pkg/middleware"
	"shelf/pkg/server"
)

// Subprotocol is the graphql-transport-ws protocol name.
const Subprotocol = "graphql-transport-ws"

const (
	wsInitTimeout    = 10 * time.Second
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 1 << 20
)

// graphql-transport-ws message types
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

// graphql-transport-ws close codes
const (
	closeInvalidMessage      = 4400
	closeUnauthorized        = 4401
	closeInitTimeout         = 4408
	closeSubscriberExists    = 4409
	closeTooManyInitRequests = 4429
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	Subprotocols:    []string{Subprotocol},
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsSession struct {
	h      *Handler
	conn   *websocket.Conn
	info   RequestInfo
	logger logging.Entry

	writeMu sync.Mutex
	acked   atomic.Bool

	opsMu sync.Mutex
	ops   map[string]*wsOperation
	wg    sync.WaitGroup
}

type wsOperation struct {
	id     string
	cancel context.CancelFunc
}

// ServeWebSocket upgrades the request and runs a graphql-transport-ws
// session until the client disconnects.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		writeError(c, http.StatusBadRequest, engine.CodeBadRequest, "websocket upgrade required")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	if conn.Subprotocol() != Subprotocol {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseProtocolError, "unsupported subprotocol"),
			time.Now().Add(wsWriteWait))
		_ = conn.Close()
		return
	}

	header := NormalizeHeaders(c.Request.Header)
	s := &wsSession{
		h:      h,
		conn:   conn,
		info:   requestInfoFromGin(c, header),
		logger: middleware.GetContextLogger(c, h.logger),
		ops:    make(map[string]*wsOperation),
	}

	h.metrics.SessionOpened()
	defer h.metrics.SessionClosed()

	s.run(c.Request.Context())
}

func (s *wsSession) run(parent context.Context) {
	ctx, cancel := server.StreamContext(parent)
	stopWatch := context.AfterFunc(ctx, func() {
		if parent.Err() == nil {
			s.close(websocket.CloseGoingAway, "Server shutting down")
		}
	})
	defer func() {
		stopWatch()
		cancel()
		s.wg.Wait()
		_ = s.conn.Close()
	}()

	initTimer := time.AfterFunc(wsInitTimeout, func() {
		if !s.acked.Load() {
			s.close(closeInitTimeout, "Connection initialisation timeout")
		}
	})
	defer initTimer.Stop()

	s.conn.SetReadLimit(wsMaxMessageSize)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.WithError(err).Debug("WebSocket connection closed")
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
			s.close(closeInvalidMessage, "Invalid message received")
			return
		}

		switch msg.Type {
		case msgConnectionInit:
			if s.acked.Load() {
				s.close(closeTooManyInitRequests, "Too many initialisation requests")
				return
			}
			s.acked.Store(true)
			s.send(wsMessage{Type: msgConnectionAck})
		case msgPing:
			s.send(wsMessage{Type: msgPong})
		case msgPong:
		case msgSubscribe:
			if !s.acked.Load() {
				s.close(closeUnauthorized, "Unauthorized")
				return
			}
			if msg.ID == "" {
				s.close(closeInvalidMessage, "Invalid message received")
				return
			}
			if !s.startOperation(ctx, msg.ID, msg.Payload) {
				s.close(closeSubscriberExists, "Subscriber for "+msg.ID+" already exists")
				return
			}
		case msgComplete:
			s.stopOperation(msg.ID)
		default:
			s.close(closeInvalidMessage, "Invalid message received")
			return
		}
	}
}

func (s *wsSession) startOperation(parent context.Context, id string, payload json.RawMessage) bool {
	s.opsMu.Lock()
	defer s.opsMu.Unlock()
	if _, exists := s.ops[id]; exists {
		return false
	}
	ctx, cancel := context.WithCancel(parent)
	op := &wsOperation{id: id, cancel: cancel}
	s.ops[id] = op
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(op)
		s.execute(ctx, op, payload)
	}()
	return true
}

// stopOperation handles a client complete for id.
func (s *wsSession) stopOperation(id string) {
	s.opsMu.Lock()
	op, ok := s.ops[id]
	delete(s.ops, id)
	s.opsMu.Unlock()
	if ok {
		op.cancel()
	}
}

// release frees op's id unless a newer operation already holds it.
func (s *wsSession) release(op *wsOperation) {
	s.opsMu.Lock()
	if s.ops[op.id] == op {
		delete(s.ops, op.id)
	}
	s.opsMu.Unlock()
	op.cancel()
}

func (s *wsSession) execute(ctx context.Context, op *wsOperation, payload json.RawMessage) {
	id := op.id
	var body any
	if err := json.Unmarshal(payload, &body); err != nil {
		s.sendErrors(op, engine.SingleErrorPayload(engine.CodeBadRequest, "subscribe payload is not valid JSON"))
		return
	}

	req := &engine.Request{
		Method: http.MethodPost,
		Header: s.info.Header,
		Body:   body,
	}
	res, err := s.h.exec.Execute(ctx, req, newContextFunc(s.info, nil))
	if err != nil {
		s.logger.WithError(err).WithField("operation_id", id).Error("GraphQL execution failed")
		s.sendErrors(op, engine.SingleErrorPayload(engine.CodeInternal, "Internal server error"))
		return
	}
	resp, err := Translate(res)
	if err != nil {
		s.logger.WithError(err).WithField("operation_id", id).Error("Engine returned a result the adapter cannot serve")
		s.sendErrors(op, engine.SingleErrorPayload(engine.CodeInternal, "Internal server error"))
		return
	}

	if resp.Stream == nil {
		if resp.Status >= http.StatusBadRequest {
			s.sendErrors(op, string(resp.Payload))
			return
		}
		s.send(wsMessage{ID: id, Type: msgNext, Payload: resp.Payload})
		s.finish(op, wsMessage{ID: id, Type: msgComplete})
		return
	}

	defer resp.Stream.Close()
	for {
		chunk, err := resp.Stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			s.finish(op, wsMessage{ID: id, Type: msgComplete})
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				// Client completed the operation or went away.
				return
			}
			s.h.metrics.IncAbort("stream_error")
			s.logger.WithError(err).WithField("operation_id", id).Error("Chunk stream failed")
			s.sendErrors(op, engine.SingleErrorPayload(engine.CodeInternal, "Internal server error"))
			return
		}
		chunk = strings.TrimSpace(chunk)
		if !json.Valid([]byte(chunk)) {
			s.sendErrors(op, engine.SingleErrorPayload(engine.CodeInternal, "stream produced a non-JSON fragment"))
			return
		}
		s.send(wsMessage{ID: id, Type: msgNext, Payload: json.RawMessage(chunk)})
		s.h.metrics.IncChunk()
	}
}

// sendErrors sends an error message whose payload is the errors list of a
// GraphQL error document.
func (s *wsSession) sendErrors(op *wsOperation, document string) {
	var doc struct {
		Errors json.RawMessage `json:"errors"`
	}
	payload := json.RawMessage(`[{"message":"Internal server error"}]`)
	if err := json.Unmarshal([]byte(document), &doc); err == nil && len(doc.Errors) > 0 {
		payload = doc.Errors
	}
	s.finish(op, wsMessage{ID: op.id, Type: msgError, Payload: payload})
}

// finish releases the operation id before sending its terminal message, so
// the client may reuse the id as soon as the message arrives.
func (s *wsSession) finish(op *wsOperation, msg wsMessage) {
	s.release(op)
	s.send(msg)
}

func (s *wsSession) send(msg wsMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode WebSocket message")
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		s.logger.WithError(err).Debug("Failed to write WebSocket message")
	}
}

func (s *wsSession) close(code int, reason string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsWriteWait))
	_ = s.conn.Close()
}
