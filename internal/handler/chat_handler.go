// Package handler contains the HTTP controllers.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"waris-go/internal/model"
	"waris-go/internal/service"
	"waris-go/pkg/llm"
	"waris-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChatHandler serves the assistant chat endpoints.
type ChatHandler struct {
	retriever service.RetrieverService
	gateway   *llm.Gateway
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(retriever service.RetrieverService, gateway *llm.Gateway) *ChatHandler {
	return &ChatHandler{retriever: retriever, gateway: gateway}
}

// Chat answers one turn with a complete response.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	resp, err := h.retriever.QueryWithContext(c.Request.Context(), req)
	if err != nil {
		log.Errorf("[ChatHandler] chat failed: %v", err)
		if resp.Reply != "" {
			// The gateway already put a user-facing apology in the reply;
			// surface it with the service-unavailable status.
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		// Retrieval failed before any provider was called.
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ChatStream answers one turn as a Server-Sent Events token stream.
// Events are JSON lines: {"content": ...} per token, {"done": true} at
// the end, {"error": ...} on failure.
func (h *ChatHandler) ChatStream(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	events, _, err := h.retriever.StreamWithContext(c.Request.Context(), req)
	if err != nil {
		log.Errorf("[ChatHandler] stream failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	for ev := range events {
		switch {
		case ev.Err != nil:
			writeSSE(c, gin.H{"error": ev.Err.Error()})
		case ev.Done:
			writeSSE(c, gin.H{"done": true})
		case ev.Content != "":
			writeSSE(c, gin.H{"content": ev.Content})
		}
		c.Writer.Flush()
	}
}

func writeSSE(c *gin.Context, payload gin.H) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.Writer.WriteString("data: ")
	c.Writer.Write(data)
	c.Writer.WriteString("\n\n")
}

// Providers reports the configured LLM providers and their health.
func (h *ChatHandler) Providers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.gateway.Status()})
}

type relevanceRequest struct {
	Message string `json:"message" binding:"required"`
}

// Relevance checks whether a query is on the assistant's domain, so
// frontends can steer off-topic users before spending an LLM call.
func (h *ChatHandler) Relevance(c *gin.Context) {
	var req relevanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	relevant, reminder := h.gateway.CheckDomainRelevance(req.Message)
	resp := gin.H{"relevant": relevant}
	if reminder != "" {
		resp["reminder"] = reminder
	}
	c.JSON(http.StatusOK, resp)
}

// wsEnvelope is the wire format for WebSocket chat frames, mirroring
// the SSE events.
type wsEnvelope struct {
	Content string            `json:"content,omitempty"`
	Done    bool              `json:"done,omitempty"`
	Stopped bool              `json:"stopped,omitempty"`
	Error   string            `json:"error,omitempty"`
	Sources []model.SourceRef `json:"sources,omitempty"`
}

// wsControl is an inbound control frame, currently only {"type":"stop"}.
type wsControl struct {
	Type string `json:"type"`
}

// wsSession serializes writes on one connection; the read loop and the
// streaming goroutine both write frames.
type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

func (s *wsSession) write(env wsEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warnf("websocket write failed: %v", err)
	}
}

// stopStream cancels the in-flight reply, if any. Reports whether one
// was running.
func (s *wsSession) stopStream() bool {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	return true
}

func (s *wsSession) setCancel(cancel context.CancelFunc) {
	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()
}

// HandleWS upgrades to WebSocket and answers each incoming chat request
// with a token stream. A {"type":"stop"} frame cancels the reply in
// flight; tokens already delivered stand.
func (h *ChatHandler) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("websocket upgrade failed", err)
		return
	}
	defer conn.Close()

	log.Infof("websocket connection established: %s", c.ClientIP())

	session := &wsSession{conn: conn}
	defer session.stopStream()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("websocket read failed: %v", err)
			break
		}

		var ctrl wsControl
		if json.Unmarshal(message, &ctrl) == nil && ctrl.Type == "stop" {
			if session.stopStream() {
				session.write(wsEnvelope{Stopped: true})
			}
			continue
		}

		var req model.ChatRequest
		if err := json.Unmarshal(message, &req); err != nil || req.Message == "" {
			session.write(wsEnvelope{Error: "invalid request"})
			continue
		}

		// One reply at a time per connection.
		session.stopStream()
		streamCtx, cancel := context.WithCancel(c.Request.Context())
		session.setCancel(cancel)

		events, sources, err := h.retriever.StreamWithContext(streamCtx, req)
		if err != nil {
			log.Errorf("[ChatHandler] websocket stream failed: %v", err)
			session.stopStream()
			session.write(wsEnvelope{Error: err.Error()})
			continue
		}
		go func() {
			defer cancel()
			for ev := range events {
				switch {
				case ev.Err != nil:
					session.write(wsEnvelope{Error: ev.Err.Error()})
				case ev.Done:
					session.write(wsEnvelope{Done: true, Sources: sources})
				case ev.Content != "":
					session.write(wsEnvelope{Content: ev.Content})
				}
			}
		}()
	}
}
