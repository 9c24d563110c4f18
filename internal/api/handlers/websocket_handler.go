package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/dblp-kgqa/kgqa/internal/middleware/validation"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
)

type WebSocketHandler struct {
	answers *AnswerHandler
	maxLen  int
}

func NewWebSocketHandler(answers *AnswerHandler, maxQuestionLength int) *WebSocketHandler {
	if maxQuestionLength <= 0 {
		maxQuestionLength = 1000
	}
	return &WebSocketHandler{
		answers: answers,
		maxLen:  maxQuestionLength,
	}
}

type wsMessage struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

// HandleConnection answers one question per "question" message. A valid
// question gets a "status" message and then "complete"; an invalid one gets
// "error".
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "question" {
			continue
		}

		question := validation.Sanitize(msg.Question)
		if question == "" || len([]rune(question)) > h.maxLen {
			if err := h.sendError(c, msg.ID, "Question is empty or too long"); err != nil {
				break
			}
			continue
		}

		logger.Info("Processing WebSocket question", zap.String("question", question))

		if err := h.sendStatus(c, msg.ID, "Answering question..."); err != nil {
			break
		}

		resp := h.answers.answer(context.Background(), AnswerRequest{
			ID:       msg.ID,
			Question: question,
			TopK:     msg.TopK,
		})

		if err := c.WriteJSON(map[string]any{
			"type":   "complete",
			"result": resp,
		}); err != nil {
			logger.Error("Failed to send answer", zap.Error(err))
			break
		}
	}
}

func (h *WebSocketHandler) sendStatus(c *websocket.Conn, id, content string) error {
	return c.WriteJSON(map[string]any{
		"type":    "status",
		"id":      id,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, id, errorMsg string) error {
	return c.WriteJSON(map[string]any{
		"type":  "error",
		"id":    id,
		"error": errorMsg,
	})
}
