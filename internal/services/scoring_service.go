package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"leadpulse/internal/cache"
	"leadpulse/internal/config"
	"leadpulse/internal/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// MaxScoringBatch bounds how many leads go to the provider per call.
const MaxScoringBatch = 100

// ScoringService grades leads through an OpenAI-compatible chat-completions
// endpoint. Identical batches hit the prompt cache instead of the provider,
// and a token-bucket limiter throttles whatever does go out. Without an API
// key the service falls back to a local heuristic so the scoring job still
// produces scores in development.
// scoreRecorder receives scoring outcome counts for metrics.
type scoreRecorder interface {
	RecordLeadsScored(count int)
	RecordScoringError()
}

type ScoringService struct {
	apiURL     string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	aiCache    *cache.AICache
	logger     *logrus.Logger
	metrics    scoreRecorder
}

// NewScoringService builds the service from config.
func NewScoringService(cfg *config.Config, aiCache *cache.AICache) *ScoringService {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	rps := cfg.ScoringRPS
	if rps <= 0 {
		rps = 1.0
	}

	return &ScoringService{
		apiURL: cfg.ScoringAPIURL,
		apiKey: cfg.ScoringAPIKey,
		model:  cfg.ScoringModel,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		aiCache: aiCache,
		logger:  logger,
	}
}

// SetMetrics attaches a scoring outcome recorder. Call once at startup.
func (s *ScoringService) SetMetrics(m scoreRecorder) {
	s.metrics = m
}

func (s *ScoringService) recordScored(count int) {
	if s.metrics != nil {
		s.metrics.RecordLeadsScored(count)
	}
}

func (s *ScoringService) recordError() {
	if s.metrics != nil {
		s.metrics.RecordScoringError()
	}
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// ScoreLeads returns a score (0-100) per lead id. Batches beyond
// MaxScoringBatch are truncated; callers page across runs.
func (s *ScoringService) ScoreLeads(ctx context.Context, leads []models.Lead) (map[string]int, error) {
	if len(leads) == 0 {
		return map[string]int{}, nil
	}
	if len(leads) > MaxScoringBatch {
		leads = leads[:MaxScoringBatch]
	}

	if s.apiKey == "" {
		s.logger.WithField("count", len(leads)).Info("No scoring API key configured, using heuristic scores")
		scores := s.heuristicScores(leads)
		s.recordScored(len(scores))
		return scores, nil
	}

	prompt := buildScoringPrompt(leads)

	if cached := s.aiCache.GetResponse(ctx, prompt); cached != nil {
		scores, err := parseScores(cached.Response, leads)
		if err == nil {
			s.logger.WithField("count", len(scores)).Info("Scored leads from prompt cache")
			s.recordScored(len(scores))
			return scores, nil
		}
		// Unparseable cached payload: drop it and go to the provider.
		s.aiCache.Invalidate(ctx, prompt)
	}

	response, err := s.complete(ctx, prompt)
	if err != nil {
		s.recordError()
		return nil, err
	}

	scores, err := parseScores(response, leads)
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("provider returned unparseable scores: %w", err)
	}

	s.aiCache.PutResponse(ctx, prompt, response, s.model)
	s.recordScored(len(scores))

	s.logger.WithFields(logrus.Fields{
		"count": len(scores),
		"model": s.model,
	}).Info("Scored leads via provider")
	return scores, nil
}

func (s *ScoringService) complete(ctx context.Context, prompt string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter interrupted: %w", err)
	}

	reqBody := chatCompletionRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a B2B lead-qualification assistant. Respond only with JSON."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal scoring request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create scoring request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("scoring request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read scoring response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("scoring provider error: status=%d, body=%s", resp.StatusCode, truncateBody(body))
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("failed to parse scoring response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("scoring provider returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

// buildScoringPrompt renders a stable, whitespace-light summary of the
// batch. Field order is fixed so identical batches hash identically in the
// prompt cache.
func buildScoringPrompt(leads []models.Lead) string {
	var b strings.Builder
	b.WriteString("Score each lead from 0 to 100 on likelihood to convert.\n")
	b.WriteString("Return a JSON object mapping lead id to integer score, nothing else.\n")
	b.WriteString("Leads:\n")
	for _, lead := range leads {
		fmt.Fprintf(&b, "- id=%s name=%q company=%q channel=%s country=%s status=%s has_email=%t has_phone=%t\n",
			lead.ID.Hex(), lead.Name, lead.Company, lead.Channel, lead.Country, lead.Status,
			lead.Email != "", lead.Phone != "")
	}
	return b.String()
}

// parseScores extracts the id->score map, tolerating code fences around the
// JSON. Scores are clamped to 0-100 and ids outside the batch are dropped.
func parseScores(response string, leads []models.Lead) (map[string]int, error) {
	trimmed := strings.TrimSpace(response)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var raw map[string]int
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(leads))
	for _, lead := range leads {
		known[lead.ID.Hex()] = true
	}

	scores := make(map[string]int, len(raw))
	for id, score := range raw {
		if !known[id] {
			continue
		}
		if score < 0 {
			score = 0
		}
		if score > 100 {
			score = 100
		}
		scores[id] = score
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("no scores for known lead ids")
	}
	return scores, nil
}

// heuristicScores grades on data completeness and pipeline status. Rough on
// purpose, only used when no provider is configured.
func (s *ScoringService) heuristicScores(leads []models.Lead) map[string]int {
	scores := make(map[string]int, len(leads))
	for _, lead := range leads {
		score := 20
		if lead.Email != "" {
			score += 20
		}
		if lead.Phone != "" {
			score += 10
		}
		if lead.Company != "" {
			score += 15
		}
		switch lead.Status {
		case models.LeadStatusContacted:
			score += 10
		case models.LeadStatusQualified:
			score += 25
		case models.LeadStatusWon:
			score = 100
		case models.LeadStatusLost:
			score = 5
		}
		if score > 100 {
			score = 100
		}
		scores[lead.ID.Hex()] = score
	}
	return scores
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
