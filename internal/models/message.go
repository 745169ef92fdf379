package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message directions.
const (
	MessageInbound  = "inbound"
	MessageOutbound = "outbound"
)

// Message is a single inbound or outbound message on any channel.
type Message struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    string             `bson:"userId" json:"user_id"`
	LeadID    string             `bson:"leadId,omitempty" json:"lead_id,omitempty"`
	Channel   string             `bson:"channel" json:"channel"`
	Direction string             `bson:"direction" json:"direction"`
	Body      string             `bson:"body" json:"body"`
	Status    string             `bson:"status,omitempty" json:"status,omitempty"`
	IsActive  bool               `bson:"isActive" json:"is_active"`
	CreatedAt time.Time          `bson:"createdAt" json:"created_at"`
}

// Campaign is an outbound campaign grouping messages and leads.
type Campaign struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID     string             `bson:"userId" json:"user_id"`
	Name       string             `bson:"name" json:"name"`
	Channel    string             `bson:"channel" json:"channel"`
	TemplateID string             `bson:"templateId,omitempty" json:"template_id,omitempty"`
	Status     string             `bson:"status" json:"status"` // draft | running | done
	IsActive   bool               `bson:"isActive" json:"is_active"`
	CreatedAt  time.Time          `bson:"createdAt" json:"created_at"`
	UpdatedAt  time.Time          `bson:"updatedAt" json:"updated_at"`
}
