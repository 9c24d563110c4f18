package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dblp-kgqa/kgqa/internal/middleware/validation"
	"github.com/dblp-kgqa/kgqa/internal/qa"
	"github.com/dblp-kgqa/kgqa/internal/query"
	"github.com/dblp-kgqa/kgqa/internal/storage/models"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
)

// Answerer is satisfied by *query.Engine.
type Answerer interface {
	Answer(ctx context.Context, q qa.Question, topK int) qa.Outcome
}

type OutcomeLog interface {
	InsertOutcome(o *models.OutcomeRecord) error
}

type AnswerRequest struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

type AnswerResponse struct {
	ID               string              `json:"id"`
	Status           qa.Status           `json:"status"`
	Answer           *qa.Answer          `json:"answer,omitempty"`
	SPARQL           string              `json:"sparql,omitempty"`
	Confidence       *float64            `json:"confidence,omitempty"`
	SelectedEntities []qa.LinkedEntity   `json:"selected_entities,omitempty"`
	SimilarQuestions []qa.SimilarExample `json:"similar_questions,omitempty"`
	ExecutionError   string              `json:"execution_error,omitempty"`
	Reason           string              `json:"reason,omitempty"`
	LatencyMS        int64               `json:"latency_ms"`
}

func NewAnswerResponse(out qa.Outcome, latency time.Duration) AnswerResponse {
	resp := AnswerResponse{
		ID:        out.QuestionID,
		Status:    out.Status,
		Reason:    out.Reason,
		LatencyMS: latency.Milliseconds(),
	}
	if rec := out.Record; rec != nil {
		answer := rec.Answer
		resp.Answer = &answer
		resp.SPARQL = rec.Query
		resp.Confidence = rec.Confidence
		resp.SelectedEntities = rec.SelectedEntities
		resp.SimilarQuestions = rec.SimilarQuestions
		resp.ExecutionError = rec.ExecutionError
	}
	return resp
}

type AnswerHandler struct {
	engine Answerer
	audit  OutcomeLog
	topK   int
}

// NewAnswerHandler takes an optional audit log; pass nil to skip auditing.
func NewAnswerHandler(engine Answerer, audit OutcomeLog, topK int) *AnswerHandler {
	if topK <= 0 {
		topK = query.DefaultTopK
	}
	return &AnswerHandler{
		engine: engine,
		audit:  audit,
		topK:   topK,
	}
}

func (h *AnswerHandler) HandleAnswer(c *fiber.Ctx) error {
	var req AnswerRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	// The validation middleware stores the cleaned question.
	if q, ok := c.Locals(validation.QuestionLocal).(string); ok {
		req.Question = q
	}

	if req.Question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question is required",
		})
	}

	resp := h.answer(c.UserContext(), req)
	return c.JSON(resp)
}

func (h *AnswerHandler) answer(ctx context.Context, req AnswerRequest) AnswerResponse {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	topK := req.TopK
	if topK <= 0 {
		topK = h.topK
	}

	q := qa.Question{ID: req.ID, Text: req.Question}
	start := time.Now()
	out := h.engine.Answer(ctx, q, topK)
	latency := time.Since(start)

	if h.audit != nil {
		if err := h.audit.InsertOutcome(query.AuditRecord("", q, out, latency)); err != nil {
			logger.Warn("Failed to audit answer", zap.String("question_id", q.ID), zap.Error(err))
		}
	}

	return NewAnswerResponse(out, latency)
}
