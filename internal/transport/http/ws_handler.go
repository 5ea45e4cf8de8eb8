package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

const writeWait = 10 * time.Second

type WSHandler struct {
	service  *app.AttemptService
	upgrader websocket.Upgrader
	logger   *slog.Logger
	validate *validator.Validate
}

func NewWSHandler(service *app.AttemptService, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		validate: validator.New(),
	}
}

type inboundMessage struct {
	Type    string          `json:"type" validate:"required,oneof=answer submit expire"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string          `json:"questionId" validate:"required"`
	Answer     json.RawMessage `json:"answer" validate:"required"`
}

type answerSaved struct {
	QuestionID string `json:"questionId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// outbox queues messages for the connection's single writer. A push gives up
// once the writer has stopped, so a dead connection never blocks its caller.
type outbox struct {
	send       chan outboundMessage[any]
	writerDone <-chan struct{}
}

func (o outbox) push(msg outboundMessage[any]) bool {
	select {
	case <-o.writerDone:
		return false
	default:
	}
	select {
	case o.send <- msg:
		return true
	case <-o.writerDone:
		return false
	}
}

func (o outbox) pushError(msg string) bool {
	return o.push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}})
}

// ServeWS upgrades HTTP requests to websockets bound to one attempt. The user
// comes from the gateway-set X-User-ID header, as on every other route. The
// server pushes "attempt" snapshots whenever the attempt changes; the client
// sends "answer", "submit" and "expire" messages.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	attemptID := r.URL.Query().Get("attemptId")
	userID := r.Header.Get(userHeader)
	if attemptID == "" || userID == "" {
		http.Error(w, "missing attemptId or user", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	updates, cancel, err := h.service.Subscribe(ctx, userID, attemptID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})
	out := outbox{send: send, writerDone: writerDone}

	// Only the writer goroutine touches conn for writes. A failed write closes
	// the connection, which also ends the read loop.
	go func() {
		defer close(writerDone)
		for msg := range send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write error", "attempt_id", attemptID, "error", err)
				_ = conn.Close()
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "attempt", Payload: newAttemptView(update)}:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	h.readLoop(conn, out, func(inbound inboundMessage) bool {
		return h.handleInbound(ctx, out, userID, attemptID, inbound)
	})

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// readLoop reads client messages until the connection fails or a handler
// reports that the writer is gone.
func (h *WSHandler) readLoop(conn *websocket.Conn, out outbox, handle func(inboundMessage) bool) {
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		if err := h.validate.Struct(inbound); err != nil {
			if !out.pushError("unsupported message type") {
				return
			}
			continue
		}
		if !handle(inbound) {
			return
		}
	}
}

func (h *WSHandler) handleInbound(ctx context.Context, out outbox, userID, attemptID string, inbound inboundMessage) bool {
	switch inbound.Type {
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil || h.validate.Struct(payload) != nil {
			return out.pushError("invalid answer payload")
		}
		answer, err := domain.DecodeAnswer(payload.Answer)
		if err != nil {
			return out.pushError(err.Error())
		}
		if err := h.service.RecordAnswer(ctx, userID, attemptID, payload.QuestionID, answer); err != nil {
			return out.pushError(err.Error())
		}
		return out.push(outboundMessage[any]{Type: "answerSaved", Payload: answerSaved{QuestionID: payload.QuestionID}})
	case "submit", "expire":
		finalize := h.service.Submit
		if inbound.Type == "expire" {
			finalize = h.service.Expire
		}
		state, err := finalize(ctx, userID, attemptID)
		if err != nil {
			return out.pushError(err.Error())
		}
		return out.push(outboundMessage[any]{Type: "attempt", Payload: newAttemptView(state)})
	}
	return true
}
