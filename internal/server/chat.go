package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/cinechat/cinechat/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// evaluationFrameType is the client-facing type for the scores frame. The
// pipeline's evaluation_data event is an internal handoff and never reaches
// the wire under that name.
const evaluationFrameType = "evaluation"

// chatFrame is the wire shape of every server-to-client chat message.
type chatFrame struct {
	MessageID string `json:"message_id"`
	Content   any    `json:"content"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

type inboundMessage struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

type inboundFrame struct {
	raw []byte
	err error
}

// ChatHandler runs the conversational WebSocket endpoint. Turns within one
// connection are strictly sequential: the next inbound message is not
// processed until the previous turn's events have all been written.
type ChatHandler struct {
	Pipeline       *pipeline.Pipeline
	Secret         []byte
	ReceiveTimeout time.Duration
	Logger         *log.Logger
}

func NewChatHandler(p *pipeline.Pipeline, secret []byte, receiveTimeout time.Duration) *ChatHandler {
	if receiveTimeout <= 0 {
		receiveTimeout = 60 * time.Second
	}
	return &ChatHandler{
		Pipeline:       p,
		Secret:         secret,
		ReceiveTimeout: receiveTimeout,
		Logger:         log.New(log.Writer(), "[CHAT] ", log.LstdFlags),
	}
}

func (h *ChatHandler) Register(e *echo.Echo) {
	e.GET("/chat", h.handle)
}

func (h *ChatHandler) handle(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx := c.Request().Context()

	token := c.QueryParam("token")
	userID, err := VerifyJWT(token, h.Secret)
	if err != nil {
		h.Logger.Printf("rejecting chat connection: %v", err)
		h.closeWith(conn, websocket.ClosePolicyViolation, "unauthorized")
		return nil
	}
	exists, err := h.Pipeline.Store.UserExists(ctx, userID)
	if err != nil || !exists {
		h.Logger.Printf("rejecting chat connection: unknown user %s", userID)
		h.closeWith(conn, websocket.ClosePolicyViolation, "unauthorized")
		return nil
	}

	h.Logger.Printf("chat connected: user=%s", userID)
	session := h.Pipeline.NewSession(userID)

	inbound := make(chan inboundFrame)
	go func() {
		defer close(inbound)
		for {
			_, raw, err := conn.ReadMessage()
			select {
			case inbound <- inboundFrame{raw: raw, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(h.ReceiveTimeout):
			h.Logger.Printf("receive timeout, continuing: user=%s", userID)
			continue
		case in, ok := <-inbound:
			if !ok || in.err != nil {
				h.Logger.Printf("chat disconnected: user=%s", userID)
				return nil
			}
			var msg inboundMessage
			if err := json.Unmarshal(in.raw, &msg); err != nil {
				h.writeFrame(conn, chatFrame{
					MessageID: uuid.NewString(),
					Content:   "Invalid JSON format",
					Type:      string(pipeline.EventError),
					Timestamp: time.Now().UTC().Format(time.RFC3339),
				})
				continue
			}
			if msg.Timestamp != "" {
				if ts, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
					h.Logger.Printf("client timestamp: %s", ts.UTC().Format(time.RFC3339))
				}
			}
			if !h.runTurn(ctx, conn, session, msg.Content) {
				return nil
			}
		}
	}
}

// runTurn forwards one turn's events to the socket. Returns false when the
// client went away and the connection should be torn down.
func (h *ChatHandler) runTurn(ctx context.Context, conn *websocket.Conn, session *pipeline.Session, question string) bool {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	messageID := uuid.NewString()
	events := session.Run(turnCtx, question)
	for ev := range events {
		frame := chatFrame{
			MessageID: messageID,
			Type:      string(ev.Type),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if ev.Type == pipeline.EventEvaluationData {
			// Scores go out under their own id and a client-facing type name.
			frame.MessageID = uuid.NewString()
			frame.Type = evaluationFrameType
			frame.Content = ev.Evaluation
		} else {
			frame.Content = ev.Content
		}
		if err := h.writeFrame(conn, frame); err != nil {
			h.Logger.Printf("write failed mid-turn, abandoning: %v", err)
			cancel()
			for range events {
			}
			return false
		}
	}
	return true
}

func (h *ChatHandler) writeFrame(conn *websocket.Conn, frame chatFrame) error {
	return conn.WriteJSON(frame)
}

func (h *ChatHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}
