package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Lead statuses as they move through the pipeline.
const (
	LeadStatusNew       = "new"
	LeadStatusContacted = "contacted"
	LeadStatusQualified = "qualified"
	LeadStatusWon       = "won"
	LeadStatusLost      = "lost"
)

// Lead is a prospective customer ingested from one of the messaging
// channels. Score is denormalized onto the record by the scoring job so
// list views never join against scoring results.
type Lead struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    string             `bson:"userId" json:"user_id"`
	Name      string             `bson:"name" json:"name"`
	Company   string             `bson:"company,omitempty" json:"company,omitempty"`
	Email     string             `bson:"email,omitempty" json:"email,omitempty"`
	Phone     string             `bson:"phone,omitempty" json:"phone,omitempty"`
	Channel   string             `bson:"channel" json:"channel"` // whatsapp | wechat | email
	Country   string             `bson:"country,omitempty" json:"country,omitempty"`
	Status    string             `bson:"status" json:"status"`
	Notes     string             `bson:"notes,omitempty" json:"notes,omitempty"`
	Score     *int               `bson:"score,omitempty" json:"score,omitempty"`
	ScoredAt  *time.Time         `bson:"scoredAt,omitempty" json:"scored_at,omitempty"`
	CreatedAt time.Time          `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updated_at"`
}

// ScoreStale reports whether the lead needs (re)scoring: no score yet, or
// the last score is older than maxAge.
func (l *Lead) ScoreStale(maxAge time.Duration, now time.Time) bool {
	if l.Score == nil || l.ScoredAt == nil {
		return true
	}
	return now.Sub(*l.ScoredAt) > maxAge
}
