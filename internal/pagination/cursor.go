// Package pagination implements the opaque-cursor scheme used by every list
// endpoint. A cursor encodes the sort field, the last-seen value and the
// direction; it is valid only for the same (field, order) pair that produced
// it. Malformed or mismatched cursors are rejected as client errors.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Sort directions accepted by the codec.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// ErrInvalidCursor marks a pagination token that does not decode to a valid
// cursor. Handlers translate it to a 400.
var ErrInvalidCursor = errors.New("invalid cursor format")

// ErrCursorMismatch marks a cursor supplied for a different sort than the
// one that produced it.
var ErrCursorMismatch = errors.New("cursor does not match requested sort")

// Cursor is the decoded pagination token.
type Cursor struct {
	Field     string      `json:"field"`
	Value     interface{} `json:"value"`
	Order     string      `json:"order"`
	Timestamp int64       `json:"timestamp"`
}

// Create encodes a cursor for the given sort position.
func Create(field string, value interface{}, order string) string {
	cursor := Cursor{
		Field:     field,
		Value:     value,
		Order:     order,
		Timestamp: time.Now().UnixMilli(),
	}
	data, _ := json.Marshal(cursor)
	return base64.URLEncoding.EncodeToString(data)
}

// Parse decodes an opaque cursor string. It fails with ErrInvalidCursor when
// the string is not base64url-encoded JSON carrying the expected fields.
func Parse(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, ErrInvalidCursor
	}

	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	if cursor.Field == "" || (cursor.Order != OrderAsc && cursor.Order != OrderDesc) {
		return nil, ErrInvalidCursor
	}

	return &cursor, nil
}

// Apply adds the cursor's position to a query filter as a strict comparison
// in the traversal direction. Date-like string values are compared as
// timestamps. The cursor must match the requested (field, order) pair.
func Apply(filter bson.M, cursor *Cursor, field, order string) error {
	if cursor == nil {
		return nil
	}
	if cursor.Field != field || cursor.Order != order {
		return ErrCursorMismatch
	}

	value := cursor.Value
	if s, ok := value.(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			value = ts
		} else if ts, err := time.Parse(time.RFC3339, s); err == nil {
			value = ts
		}
	}

	op := "$gt"
	if order == OrderDesc {
		op = "$lt"
	}
	filter[field] = bson.M{op: value}
	return nil
}

// Next derives the cursor for the following page from a full page of
// results. It returns "" when the page came back short, meaning there are
// no more pages. Stability under concurrent inserts holds only for strictly
// monotonic sort fields; a record inserted between the cursor position and
// now may be skipped or duplicated, which the backing store cannot prevent
// cheaply.
func Next(results []bson.M, field, order string, limit int) string {
	if limit <= 0 || len(results) < limit {
		return ""
	}

	last := results[len(results)-1]
	value, ok := last[field]
	if !ok {
		return ""
	}

	switch t := value.(type) {
	case time.Time:
		value = t.UTC().Format(time.RFC3339Nano)
	case primitive.DateTime:
		value = t.Time().UTC().Format(time.RFC3339Nano)
	}

	return Create(field, value, order)
}
