package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// DefaultAICacheTTL bounds how long an LLM response is reused for an
// identical prompt.
const DefaultAICacheTTL = 24 * time.Hour

var spaceRuns = regexp.MustCompile(`[ \t]+`)

// AIResponse is a cached LLM reply plus bookkeeping metadata.
type AIResponse struct {
	Response string             `json:"response"`
	Metadata AIResponseMetadata `json:"metadata"`
}

// AIResponseMetadata records when and under which hash a reply was cached.
type AIResponseMetadata struct {
	CachedAt         time.Time `json:"cachedAt"`
	PromptHashPrefix string    `json:"promptHashPrefix"`
	Model            string    `json:"model,omitempty"`
}

// AICache is a content-addressed cache for LLM responses. Prompts are
// whitespace-normalized before hashing so semantically identical but
// differently formatted prompts collide on purpose.
type AICache struct {
	client *Client
	ttl    time.Duration
}

// NewAICache creates an AI response cache with the given TTL (0 = default).
func NewAICache(client *Client, ttl time.Duration) *AICache {
	if ttl <= 0 {
		ttl = DefaultAICacheTTL
	}
	return &AICache{client: client, ttl: ttl}
}

// NormalizePrompt collapses runs of spaces and tabs, drops blank lines and
// trims the result.
func NormalizePrompt(prompt string) string {
	lines := strings.Split(prompt, "\n")
	normalized := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(spaceRuns.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		normalized = append(normalized, line)
	}
	return strings.Join(normalized, "\n")
}

// HashPrompt returns the sha256 hex digest of the normalized prompt.
func HashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(NormalizePrompt(prompt)))
	return hex.EncodeToString(sum[:])
}

// GetResponse returns the cached response for a prompt, or nil on a miss.
// Corrupted entries are dropped by the underlying client and read as misses.
func (a *AICache) GetResponse(ctx context.Context, prompt string) *AIResponse {
	var resp AIResponse
	if !a.client.GetJSON(ctx, PromptKey(HashPrompt(prompt)), &resp) {
		return nil
	}
	return &resp
}

// PutResponse stores a response for a prompt.
func (a *AICache) PutResponse(ctx context.Context, prompt, response, model string) bool {
	hash := HashPrompt(prompt)
	entry := AIResponse{
		Response: response,
		Metadata: AIResponseMetadata{
			CachedAt:         time.Now().UTC(),
			PromptHashPrefix: hash[:8],
			Model:            model,
		},
	}
	return a.client.SetJSON(ctx, PromptKey(hash), entry, a.ttl)
}

// Invalidate drops the cached response for a prompt.
func (a *AICache) Invalidate(ctx context.Context, prompt string) bool {
	return a.client.Del(ctx, PromptKey(HashPrompt(prompt))) > 0
}
