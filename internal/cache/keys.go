package cache

import (
	"encoding/json"
	"fmt"
)

// Key formats are part of the wire contract: any instance warming the cache
// must produce keys byte-identical to the instances reading it.

// ResponseKey builds the response-cache key for an HTTP request.
// Format: cache:{METHOD}:{path}:{JSON-query-params}:{identity|"anonymous"}
func ResponseKey(method, path string, query map[string]string, identity string) string {
	if identity == "" {
		identity = "anonymous"
	}
	if query == nil {
		query = map[string]string{}
	}
	// json.Marshal sorts map keys, so equivalent query strings collapse to
	// one cache entry regardless of parameter order.
	queryJSON, _ := json.Marshal(query)
	return fmt.Sprintf("cache:%s:%s:%s:%s", method, path, string(queryJSON), identity)
}

// TagKey builds the key holding a tag's member set.
// Format: cache:tag:{tag-name}
func TagKey(tag string) string {
	return "cache:tag:" + tag
}

// PromptKey builds the AI response cache key for a hashed prompt.
// Format: ai:prompt:{sha256-hex}
func PromptKey(promptHash string) string {
	return "ai:prompt:" + promptHash
}

// TemplateKey builds the in-process compiled-template cache key.
// Format: template:compiled:{templateId}:{hash}
func TemplateKey(templateID, hash string) string {
	return fmt.Sprintf("template:compiled:%s:%s", templateID, hash)
}

// CatalogKey builds the in-process product catalog cache key.
// Format: product:catalog:{userId|"global"}
func CatalogKey(userID string) string {
	if userID == "" {
		userID = "global"
	}
	return "product:catalog:" + userID
}

// QueryKey builds the remote-query cache key for a query digest.
func QueryKey(digest string) string {
	return "query:" + digest
}
