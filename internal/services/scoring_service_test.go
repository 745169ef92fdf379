package services

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"leadpulse/internal/cache"
	"leadpulse/internal/config"
	"leadpulse/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeScoreRecorder struct {
	scored int
	errors int
}

func (r *fakeScoreRecorder) RecordLeadsScored(count int) { r.scored += count }
func (r *fakeScoreRecorder) RecordScoringError()         { r.errors++ }

// stubTransport answers every request with a canned response, so provider
// calls never leave the test.
type stubTransport struct {
	status int
	body   string
}

func (t *stubTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: t.status,
		Body:       io.NopCloser(strings.NewReader(t.body)),
		Header:     make(http.Header),
	}, nil
}

func testLeads(n int) []models.Lead {
	leads := make([]models.Lead, 0, n)
	for i := 0; i < n; i++ {
		leads = append(leads, models.Lead{
			ID:      primitive.NewObjectID(),
			Name:    "Lead",
			Channel: "email",
			Status:  models.LeadStatusNew,
		})
	}
	return leads
}

func newTestScoringService(apiKey string) *ScoringService {
	cfg := &config.Config{
		ScoringAPIURL: "https://scoring.invalid/v1/chat/completions",
		ScoringAPIKey: apiKey,
		ScoringModel:  "test-model",
		ScoringRPS:    10,
	}
	aiCache := cache.NewAICache(cache.NewClient(newMemBackend()), 0)
	return NewScoringService(cfg, aiCache)
}

func TestHeuristicScoresWithoutAPIKey(t *testing.T) {
	svc := newTestScoringService("")

	leads := []models.Lead{
		{ID: primitive.NewObjectID(), Name: "Bare", Status: models.LeadStatusNew},
		{ID: primitive.NewObjectID(), Name: "Rich", Email: "a@b.co", Phone: "+49", Company: "ACME", Status: models.LeadStatusQualified},
		{ID: primitive.NewObjectID(), Name: "Won", Status: models.LeadStatusWon},
		{ID: primitive.NewObjectID(), Name: "Lost", Status: models.LeadStatusLost},
	}

	scores, err := svc.ScoreLeads(context.Background(), leads)
	if err != nil {
		t.Fatalf("ScoreLeads() error: %v", err)
	}
	if len(scores) != 4 {
		t.Fatalf("scores = %d, want 4", len(scores))
	}

	bare := scores[leads[0].ID.Hex()]
	rich := scores[leads[1].ID.Hex()]
	if rich <= bare {
		t.Errorf("rich lead %d should outscore bare lead %d", rich, bare)
	}
	if scores[leads[2].ID.Hex()] != 100 {
		t.Errorf("won lead = %d, want 100", scores[leads[2].ID.Hex()])
	}
	if scores[leads[3].ID.Hex()] != 5 {
		t.Errorf("lost lead = %d, want 5", scores[leads[3].ID.Hex()])
	}
	for id, score := range scores {
		if score < 0 || score > 100 {
			t.Errorf("score %d for %s out of range", score, id)
		}
	}
}

func TestScoreLeadsRecordsMetrics(t *testing.T) {
	t.Run("heuristic counts scored leads", func(t *testing.T) {
		svc := newTestScoringService("")
		recorder := &fakeScoreRecorder{}
		svc.SetMetrics(recorder)

		if _, err := svc.ScoreLeads(context.Background(), testLeads(3)); err != nil {
			t.Fatalf("ScoreLeads() error: %v", err)
		}
		if recorder.scored != 3 {
			t.Errorf("scored = %d, want 3", recorder.scored)
		}
		if recorder.errors != 0 {
			t.Errorf("errors = %d, want 0", recorder.errors)
		}
	})

	t.Run("provider success counts scored leads", func(t *testing.T) {
		svc := newTestScoringService("key")
		recorder := &fakeScoreRecorder{}
		svc.SetMetrics(recorder)

		leads := testLeads(2)
		content := `{\"` + leads[0].ID.Hex() + `\": 70, \"` + leads[1].ID.Hex() + `\": 30}`
		svc.httpClient = &http.Client{Transport: &stubTransport{
			status: http.StatusOK,
			body:   `{"choices":[{"message":{"role":"assistant","content":"` + content + `"}}]}`,
		}}

		scores, err := svc.ScoreLeads(context.Background(), leads)
		if err != nil {
			t.Fatalf("ScoreLeads() error: %v", err)
		}
		if recorder.scored != len(scores) {
			t.Errorf("scored = %d, want %d", recorder.scored, len(scores))
		}
	})

	t.Run("provider failure counts an error", func(t *testing.T) {
		svc := newTestScoringService("key")
		recorder := &fakeScoreRecorder{}
		svc.SetMetrics(recorder)
		svc.httpClient = &http.Client{Transport: &stubTransport{
			status: http.StatusBadGateway,
			body:   "upstream down",
		}}

		if _, err := svc.ScoreLeads(context.Background(), testLeads(2)); err == nil {
			t.Fatal("expected provider error")
		}
		if recorder.errors != 1 {
			t.Errorf("errors = %d, want 1", recorder.errors)
		}
		if recorder.scored != 0 {
			t.Errorf("scored = %d, want 0", recorder.scored)
		}
	})

	t.Run("unparseable payload counts an error", func(t *testing.T) {
		svc := newTestScoringService("key")
		recorder := &fakeScoreRecorder{}
		svc.SetMetrics(recorder)
		svc.httpClient = &http.Client{Transport: &stubTransport{
			status: http.StatusOK,
			body:   `{"choices":[{"message":{"role":"assistant","content":"no can do"}}]}`,
		}}

		if _, err := svc.ScoreLeads(context.Background(), testLeads(2)); err == nil {
			t.Fatal("expected parse error")
		}
		if recorder.errors != 1 {
			t.Errorf("errors = %d, want 1", recorder.errors)
		}
	})
}

func TestScoreLeadsTruncatesOversizeBatch(t *testing.T) {
	svc := newTestScoringService("")

	scores, err := svc.ScoreLeads(context.Background(), testLeads(MaxScoringBatch+50))
	if err != nil {
		t.Fatalf("ScoreLeads() error: %v", err)
	}
	if len(scores) != MaxScoringBatch {
		t.Fatalf("scores = %d, want batch capped at %d", len(scores), MaxScoringBatch)
	}
}

func TestScoreLeadsEmptyBatch(t *testing.T) {
	svc := newTestScoringService("")
	scores, err := svc.ScoreLeads(context.Background(), nil)
	if err != nil {
		t.Fatalf("ScoreLeads() error: %v", err)
	}
	if len(scores) != 0 {
		t.Fatalf("scores = %v, want empty", scores)
	}
}

func TestBuildScoringPromptIsStable(t *testing.T) {
	leads := testLeads(3)
	p1 := buildScoringPrompt(leads)
	p2 := buildScoringPrompt(leads)
	if p1 != p2 {
		t.Fatal("identical batches must produce identical prompts")
	}
	for _, lead := range leads {
		if !strings.Contains(p1, lead.ID.Hex()) {
			t.Errorf("prompt missing lead id %s", lead.ID.Hex())
		}
	}
}

func TestParseScores(t *testing.T) {
	leads := testLeads(2)
	id0, id1 := leads[0].ID.Hex(), leads[1].ID.Hex()

	t.Run("plain json", func(t *testing.T) {
		scores, err := parseScores(`{"`+id0+`": 80, "`+id1+`": 55}`, leads)
		if err != nil {
			t.Fatalf("parseScores() error: %v", err)
		}
		if scores[id0] != 80 || scores[id1] != 55 {
			t.Errorf("scores = %v", scores)
		}
	})

	t.Run("fenced json", func(t *testing.T) {
		response := "```json\n{\"" + id0 + "\": 42}\n```"
		scores, err := parseScores(response, leads)
		if err != nil {
			t.Fatalf("parseScores() error: %v", err)
		}
		if scores[id0] != 42 {
			t.Errorf("scores = %v", scores)
		}
	})

	t.Run("clamps out of range", func(t *testing.T) {
		scores, err := parseScores(`{"`+id0+`": 150, "`+id1+`": -10}`, leads)
		if err != nil {
			t.Fatalf("parseScores() error: %v", err)
		}
		if scores[id0] != 100 || scores[id1] != 0 {
			t.Errorf("scores = %v, want clamped to 100/0", scores)
		}
	})

	t.Run("drops unknown ids", func(t *testing.T) {
		scores, err := parseScores(`{"`+id0+`": 70, "deadbeef": 99}`, leads)
		if err != nil {
			t.Fatalf("parseScores() error: %v", err)
		}
		if len(scores) != 1 {
			t.Errorf("scores = %v, unknown id must be dropped", scores)
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		if _, err := parseScores("I cannot score these leads.", leads); err == nil {
			t.Error("expected error for non-JSON response")
		}
	})

	t.Run("rejects all-unknown", func(t *testing.T) {
		if _, err := parseScores(`{"deadbeef": 1}`, leads); err == nil {
			t.Error("expected error when no known ids present")
		}
	})
}
