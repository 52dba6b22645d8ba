// Package reasoning is the HTTP client for the external Reasoning Service.
//
// The service receives one evidence submission together with the active
// requirements and hypotheses of the investigation and returns a typed
// classification. No prompts are built here; the request carries only
// structured data.
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/investigation"
)

// ErrUnavailable is returned when the service cannot be reached or answers
// with a server error.
var ErrUnavailable = errors.New("reasoning service unavailable")

// ErrInvalidResponse is returned for a classification that violates the
// response contract.
var ErrInvalidResponse = errors.New("invalid classification response")

// Classifier classifies one evidence submission.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (*investigation.Classification, error)
}

// ClassifyRequest is the body of POST /v1/classify.
type ClassifyRequest struct {
	InvestigationID string              `json:"investigation_id"`
	Phase           investigation.Phase `json:"phase"`
	Text            string              `json:"text,omitempty"`
	ContentRef      string              `json:"content_ref,omitempty"`
	Requirements    []RequirementView   `json:"requirements"`
	Hypotheses      []HypothesisView    `json:"hypotheses"`
}

// RequirementView is an open requirement as the service sees it.
type RequirementView struct {
	ID           string                            `json:"id"`
	HypothesisID string                            `json:"hypothesis_id"`
	Description  string                            `json:"description"`
	Tests        string                            `json:"tests"`
	Priority     investigation.RequirementPriority `json:"priority"`
	Completeness float64                           `json:"completeness"`
}

// HypothesisView is a live hypothesis as the service sees it.
type HypothesisView struct {
	ID         string                           `json:"id"`
	Statement  string                           `json:"statement"`
	Category   investigation.HypothesisCategory `json:"category"`
	Likelihood float64                          `json:"likelihood"`
}

// RequestFor builds the classification request for one submission against
// the current state of inv.
func RequestFor(inv *investigation.Investigation, ev investigation.EvidenceSubmission) ClassifyRequest {
	req := ClassifyRequest{
		InvestigationID: inv.ID,
		Phase:           inv.CurrentPhase,
		Text:            ev.Text,
		ContentRef:      ev.ContentRef,
		Requirements:    []RequirementView{},
		Hypotheses:      []HypothesisView{},
	}
	for _, h := range inv.LiveHypotheses() {
		req.Hypotheses = append(req.Hypotheses, HypothesisView{
			ID:         h.ID,
			Statement:  h.Statement,
			Category:   h.Category,
			Likelihood: h.Likelihood,
		})
		for _, r := range h.Requirements {
			if r.Status == investigation.RequirementComplete || r.Status == investigation.RequirementObsolete {
				continue
			}
			req.Requirements = append(req.Requirements, RequirementView{
				ID:           r.ID,
				HypothesisID: h.ID,
				Description:  r.Description,
				Tests:        r.Tests,
				Priority:     r.Priority,
				Completeness: r.Completeness,
			})
		}
	}
	return req
}

// Client talks to the Reasoning Service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient returns a client for baseURL. A non-positive timeout defaults to
// 30 seconds.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Classify posts req to /v1/classify and decodes the verdict.
func (c *Client) Classify(ctx context.Context, req ClassifyRequest) (*investigation.Classification, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode classify request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/classify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	c.logger.Debug("classify",
		zap.String("investigation_id", req.InvestigationID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, truncate(string(data), 200))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("classify: HTTP %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var out investigation.Classification
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidResponse, err)
	}
	if err := validate(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func validate(c *investigation.Classification) error {
	if !unit(c.Completeness) {
		return fmt.Errorf("%w: completeness %v outside [0,1]", ErrInvalidResponse, c.Completeness)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	for _, s := range c.Stances {
		if !unit(s.Completeness) {
			return fmt.Errorf("%w: stance completeness %v outside [0,1]", ErrInvalidResponse, s.Completeness)
		}
	}
	return nil
}

func unit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
