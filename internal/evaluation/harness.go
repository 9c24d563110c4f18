package evaluation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dblp-kgqa/kgqa/internal/metrics"
	"github.com/dblp-kgqa/kgqa/internal/qa"
	"github.com/dblp-kgqa/kgqa/internal/query"
	"github.com/dblp-kgqa/kgqa/internal/storage/checkpoint"
	"github.com/dblp-kgqa/kgqa/internal/storage/models"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
)

type State string

const (
	StateIdle       State = "IDLE"
	StateLoading    State = "LOADING"
	StateIterating  State = "ITERATING"
	StatePersisting State = "PERSISTING"
	StateDone       State = "DONE"
)

var allStates = []string{
	string(StateIdle),
	string(StateLoading),
	string(StateIterating),
	string(StatePersisting),
	string(StateDone),
}

// ResumePolicy decides what happens to questions whose id is already in the
// output store when a run starts.
type ResumePolicy string

const (
	// ResumeAppend re-runs every question and appends, so ids repeat.
	ResumeAppend ResumePolicy = "append"
	// ResumeSkip skips every id already present, answered or not.
	ResumeSkip ResumePolicy = "skip"
	// ResumeRetry skips answered ids and re-runs ids stored as {}, replacing
	// the empty entry in place.
	ResumeRetry ResumePolicy = "retry"
)

var ErrUnknownResumePolicy = errors.New("unknown resume policy")

func ParseResumePolicy(s string) (ResumePolicy, error) {
	switch p := ResumePolicy(s); p {
	case ResumeAppend, ResumeSkip, ResumeRetry:
		return p, nil
	case "":
		return ResumeSkip, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownResumePolicy, s)
	}
}

// Answerer is satisfied by *query.Engine.
type Answerer interface {
	Answer(ctx context.Context, q qa.Question, topK int) qa.Outcome
}

// AuditLog records runs and per-question outcomes. *sqlite.Client satisfies it.
type AuditLog interface {
	CreateRun(run *models.Run) error
	UpdateRun(run *models.Run) error
	InsertOutcome(o *models.OutcomeRecord) error
}

type Options struct {
	TopK        int
	Resume      ResumePolicy
	Model       string
	TestSetPath string
	Format      string
	// Audit is optional.
	Audit AuditLog
}

type Harness struct {
	answerer Answerer
	opts     Options

	mu    sync.RWMutex
	state State
}

type RunSummary struct {
	RunID        string
	Total        int
	Processed    int
	Answered     int
	EmptyAnswers int
	Unanswered   int
	Failed       int
	Skipped      int
	Interrupted  bool
	Duration     time.Duration
}

func NewHarness(answerer Answerer, opts Options) *Harness {
	if opts.Resume == "" {
		opts.Resume = ResumeSkip
	}
	if opts.TopK <= 0 {
		opts.TopK = query.DefaultTopK
	}
	return &Harness{
		answerer: answerer,
		opts:     opts,
		state:    StateIdle,
	}
}

func (h *Harness) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *Harness) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
	metrics.SetHarnessState(string(s), allStates...)
	logger.Debug("Harness state changed", zap.String("state", string(s)))
}

// Run answers questions in order and persists every outcome to store before
// moving to the next question. Per-question failures never stop the run; a
// checkpoint write failure does. A cancelled context stops the run between
// questions.
func (h *Harness) Run(ctx context.Context, questions []qa.Question, store *checkpoint.Store) (*RunSummary, error) {
	start := time.Now()
	h.setState(StateLoading)

	summary := &RunSummary{
		RunID: uuid.New().String(),
		Total: len(questions),
	}

	run := &models.Run{
		ID:           summary.RunID,
		TestSetPath:  h.opts.TestSetPath,
		OutputPath:   store.Path(),
		Format:       h.opts.Format,
		Model:        h.opts.Model,
		ResumePolicy: string(h.opts.Resume),
		Status:       models.RunRunning,
		Total:        summary.Total,
		StartedAt:    start,
	}
	h.audit(func(a AuditLog) error { return a.CreateRun(run) })

	logger.Info("Evaluation run started",
		zap.String("run_id", summary.RunID),
		zap.Int("questions", len(questions)),
		zap.Int("existing_entries", store.Len()),
		zap.String("resume", string(h.opts.Resume)),
		zap.Int("top_k", h.opts.TopK),
	)

	var runErr error
	for i, q := range questions {
		if err := ctx.Err(); err != nil {
			logger.Warn("Evaluation run interrupted",
				zap.String("run_id", summary.RunID),
				zap.Int("index", i),
				zap.Error(err),
			)
			summary.Interrupted = true
			break
		}

		if h.shouldSkip(q.ID, store) {
			summary.Skipped++
			logger.Debug("Skipping question already in store", zap.String("question_id", q.ID))
			continue
		}

		h.setState(StateIterating)
		logger.Info("Processing question",
			zap.Int("index", i+1),
			zap.Int("total", len(questions)),
			zap.String("question_id", q.ID),
		)

		qStart := time.Now()
		out := h.answerer.Answer(ctx, q, h.opts.TopK)
		latency := time.Since(qStart)

		// An outcome produced while the run was being cancelled reflects the
		// cancellation, not the question, so it is dropped and asked again on
		// resume.
		if err := ctx.Err(); err != nil {
			logger.Warn("Evaluation run interrupted; in-flight outcome discarded",
				zap.String("run_id", summary.RunID),
				zap.String("question_id", q.ID),
				zap.String("status", string(out.Status)),
				zap.Error(err),
			)
			summary.Interrupted = true
			break
		}

		summary.Processed++
		switch out.Status {
		case qa.StatusAnswered:
			summary.Answered++
			if out.Record.Answer.Len() == 0 {
				summary.EmptyAnswers++
			}
		case qa.StatusUnanswered:
			summary.Unanswered++
			logger.Warn("Question left unanswered; no entry written",
				zap.String("question_id", q.ID),
				zap.String("reason", out.Reason),
			)
		case qa.StatusFailed:
			summary.Failed++
		}

		h.audit(func(a AuditLog) error { return a.InsertOutcome(query.AuditRecord(summary.RunID, q, out, latency)) })

		entry, persist := out.Entry()
		if !persist {
			continue
		}

		h.setState(StatePersisting)
		if err := h.persist(store, entry); err != nil {
			metrics.CheckpointWrites.WithLabelValues("error").Inc()
			runErr = fmt.Errorf("failed to persist %s: %w", q.ID, err)
			logger.Error("Checkpoint write failed; stopping run",
				zap.String("question_id", q.ID),
				zap.String("path", store.Path()),
				zap.Error(err),
			)
			break
		}
		metrics.CheckpointWrites.WithLabelValues("ok").Inc()
	}

	summary.Duration = time.Since(start)
	h.setState(StateDone)

	finished := time.Now()
	run.Processed = summary.Processed
	run.Answered = summary.Answered
	run.EmptyAnswers = summary.EmptyAnswers
	run.Unanswered = summary.Unanswered
	run.Failed = summary.Failed
	run.Skipped = summary.Skipped
	run.FinishedAt = &finished
	run.Status = models.RunCompleted
	if runErr != nil || summary.Interrupted {
		run.Status = models.RunAborted
	}
	h.audit(func(a AuditLog) error { return a.UpdateRun(run) })

	logger.Info("Evaluation run finished",
		zap.String("run_id", summary.RunID),
		zap.Int("processed", summary.Processed),
		zap.Int("answered", summary.Answered),
		zap.Int("empty_answers", summary.EmptyAnswers),
		zap.Int("unanswered", summary.Unanswered),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Bool("interrupted", summary.Interrupted),
		zap.Duration("duration", summary.Duration),
	)

	return summary, runErr
}

func (h *Harness) shouldSkip(id string, store *checkpoint.Store) bool {
	switch h.opts.Resume {
	case ResumeSkip:
		return store.Has(id)
	case ResumeRetry:
		return store.HasAnswered(id)
	default:
		return false
	}
}

func (h *Harness) persist(store *checkpoint.Store, entry qa.Entry) error {
	if h.opts.Resume == ResumeRetry {
		return store.Upsert(entry)
	}
	return store.Append(entry)
}

// Audit failures are logged and otherwise ignored.
func (h *Harness) audit(fn func(AuditLog) error) {
	if h.opts.Audit == nil {
		return
	}
	if err := fn(h.opts.Audit); err != nil {
		logger.Warn("Audit write failed", zap.Error(err))
	}
}
