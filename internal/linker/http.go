package linker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dblp-kgqa/kgqa/internal/qa"
	"github.com/dblp-kgqa/kgqa/pkg/circuitbreaker"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
	"github.com/dblp-kgqa/kgqa/pkg/retry"
)

var ErrService = errors.New("entity linker service error")

// HTTPLinker calls a DBLP entity-linking service that answers
// {"results":[{"mention":..,"candidates":[{"label","type","uri","score"}]}]}.
type HTTPLinker struct {
	url         string
	httpClient  *http.Client
	selection   Selection
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type linkRequest struct {
	Question string `json:"question"`
}

type linkResponse struct {
	Results []struct {
		Mention    string `json:"mention"`
		Candidates []struct {
			Label string  `json:"label"`
			Type  string  `json:"type"`
			URI   string  `json:"uri"`
			Score float64 `json:"score"`
		} `json:"candidates"`
	} `json:"results"`
}

func NewHTTPLinker(url string, timeout time.Duration, selection Selection) *HTTPLinker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cb := circuitbreaker.NewCircuitBreaker("entity-linker", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    2,
		InitialDelay:   300 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Entity linker initialized", zap.String("url", url))

	return &HTTPLinker{
		url:         url,
		httpClient:  &http.Client{Timeout: timeout},
		selection:   selection,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (l *HTTPLinker) Link(ctx context.Context, question string) (qa.Linking, error) {
	var resp *linkResponse

	err := l.cb.Execute(ctx, func() error {
		return retry.Do(ctx, l.retryConfig, func() error {
			r, err := l.call(ctx, question)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
	})
	if err != nil {
		return qa.Linking{}, err
	}

	var candidates []Candidate
	for _, result := range resp.Results {
		for _, c := range result.Candidates {
			candidates = append(candidates, Candidate{
				Mention: result.Mention,
				Entity:  qa.LinkedEntity{Label: c.Label, Type: c.Type, URI: c.URI},
				Score:   c.Score,
			})
		}
	}

	linking := l.selection.Select(candidates)

	logger.Debug("Entities linked",
		zap.Int("mentions", len(resp.Results)),
		zap.Int("all", len(linking.All)),
		zap.Int("selected", len(linking.Selected)),
	)

	return linking, nil
}

func (l *HTTPLinker) call(ctx context.Context, question string) (*linkResponse, error) {
	body, err := json.Marshal(linkRequest{Question: question})
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("%w: status %d: %s", ErrService, resp.StatusCode, bytes.TrimSpace(msg))
		if resp.StatusCode < 500 {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	var out linkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, retry.Permanent(fmt.Errorf("%w: failed to decode response: %v", ErrService, err))
	}
	return &out, nil
}
