package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OAuthConnection stores a channel integration's OAuth tokens. Both tokens
// are encrypted at rest with the per-user derived key; the token refresh
// job is the only writer after initial connect.
type OAuthConnection struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID       string             `bson:"userId" json:"user_id"`
	Provider     string             `bson:"provider" json:"provider"` // microsoft | google
	AccessToken  string             `bson:"accessToken" json:"-"`     // encrypted
	RefreshToken string             `bson:"refreshToken" json:"-"`    // encrypted
	TokenURL     string             `bson:"tokenUrl" json:"-"`
	ClientID     string             `bson:"clientId" json:"-"`
	Scopes       []string           `bson:"scopes,omitempty" json:"scopes,omitempty"`
	ExpiresAt    time.Time          `bson:"expiresAt" json:"expires_at"`
	RefreshedAt  time.Time          `bson:"refreshedAt,omitempty" json:"refreshed_at,omitempty"`
	CreatedAt    time.Time          `bson:"createdAt" json:"created_at"`
}

// DailyAnalytics is the idempotent per-day rollup produced by the analytics
// aggregation job. Re-running a day overwrites the existing row.
type DailyAnalytics struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Date              string             `bson:"date" json:"date"` // YYYY-MM-DD, UTC
	LeadsByStatus     map[string]int     `bson:"leadsByStatus" json:"leads_by_status"`
	LeadsByCountry    map[string]int     `bson:"leadsByCountry" json:"leads_by_country"`
	MessagesByChannel map[string]int     `bson:"messagesByChannel" json:"messages_by_channel"`
	ScoreBuckets      map[string]int     `bson:"scoreBuckets" json:"score_buckets"`
	TotalLeads        int                `bson:"totalLeads" json:"total_leads"`
	TotalMessages     int                `bson:"totalMessages" json:"total_messages"`
	ComputedAt        time.Time          `bson:"computedAt" json:"computed_at"`
}
