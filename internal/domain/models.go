// Package domain defines the persistence models for conversations and the
// property catalog. Conversations are stored as single rows whose message
// history lives in a JSON column, so an update always replaces the whole
// document; an optimistic Version counter guards concurrent writers.
package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation statuses.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
	StatusDeleted  = "deleted"
)

// Response is the assistant turn attached to a user message. Once attached
// it is never replaced; a follow-up question creates a new Message instead.
type Response struct {
	Content            string   `json:"content"`
	RelatedPropertyIDs []string `json:"related_property_ids"`
	BestPropertyID     *string  `json:"best_property_id,omitempty"`
	Role               string   `json:"role"`
}

// Message is a single utterance inside a conversation. Number is assigned by
// the conversation when the message is appended, never by the caller.
type Message struct {
	Number    int       `json:"number"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Response  *Response `json:"response,omitempty"`
}

// Conversation is the aggregate root for a user's dialogue. The message
// history is embedded as an append-only JSON array; MessageCount always
// equals len(Messages) and numbering is gapless from 1.
//
// Version increments on every successful write and is checked on replace so
// two concurrent read-modify-write cycles cannot silently drop a message.
type Conversation struct {
	ID                 string                       `json:"id"                   gorm:"type:char(36);primaryKey"`
	UserID             string                       `json:"user_id"              gorm:"type:varchar(64);not null;index:idx_user_conversations"`
	Title              string                       `json:"title"                gorm:"type:varchar(255);not null;default:'New conversation'"`
	Status             string                       `json:"status"               gorm:"type:varchar(16);not null;default:'active';check:status IN ('active','archived','deleted')"`
	Messages           datatypes.JSONSlice[Message] `json:"messages"             gorm:"type:json"`
	MessageCount       int                          `json:"message_count"        gorm:"not null;default:0"`
	RelatedPropertyIDs datatypes.JSONSlice[string]  `json:"related_property_ids" gorm:"type:json"`
	LastMessageAt      time.Time                    `json:"last_message_at"`
	Version            int64                        `json:"-"                    gorm:"not null;default:0"`
	CreatedAt          time.Time                    `json:"created_at"`
	UpdatedAt          time.Time                    `json:"updated_at"`
	DeletedAt          gorm.DeletedAt               `json:"-"                    gorm:"index"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// AddMessage appends msg to the history, assigning the next sequence number
// and bumping the denormalized count and activity timestamp.
func (c *Conversation) AddMessage(msg Message) {
	msg.Number = c.MessageCount + 1
	c.Messages = append(c.Messages, msg)
	c.MessageCount = len(c.Messages)
	c.LastMessageAt = msg.Timestamp
}

// AttachResponse sets resp on the most recent message if that message does
// not already carry one, and merges the response's related property IDs into
// the conversation-level set. It reports whether the response was attached.
func (c *Conversation) AttachResponse(resp Response) bool {
	if len(c.Messages) == 0 {
		return false
	}
	last := &c.Messages[len(c.Messages)-1]
	if last.Response != nil {
		return false
	}
	last.Response = &resp

	seen := make(map[string]struct{}, len(c.RelatedPropertyIDs))
	for _, id := range c.RelatedPropertyIDs {
		seen[id] = struct{}{}
	}
	for _, id := range resp.RelatedPropertyIDs {
		if _, dup := seen[id]; !dup {
			c.RelatedPropertyIDs = append(c.RelatedPropertyIDs, id)
			seen[id] = struct{}{}
		}
	}
	return true
}

// Property is a catalog listing. Location and developer references are ID
// sets resolved against their own tables; the pipeline only ever reads them.
type Property struct {
	ID                   string                      `json:"id"             gorm:"type:char(36);primaryKey"`
	Title                string                      `json:"title"          gorm:"type:varchar(255);not null"`
	LocationIDs          datatypes.JSONSlice[string] `json:"location_ids"   gorm:"type:json"`
	DeveloperIDs         datatypes.JSONSlice[string] `json:"developer_ids"  gorm:"type:json"`
	ProjectID            *string                     `json:"project_id,omitempty" gorm:"type:char(36);index"`
	Price                float64                     `json:"price"`
	Currency             string                      `json:"currency"       gorm:"type:varchar(8)"`
	Bedrooms             int                         `json:"bedrooms"`
	Bathrooms            int                         `json:"bathrooms"`
	Area                 float64                     `json:"area"`
	Amenities            datatypes.JSONSlice[string] `json:"amenities"      gorm:"type:json"`
	DistanceToCityCenter float64                     `json:"distance_to_city_center"`
	IsActive             bool                        `json:"is_active"      gorm:"not null;index"`
	CreatedAt            time.Time                   `json:"created_at"`
	UpdatedAt            time.Time                   `json:"updated_at"`
	DeletedAt            gorm.DeletedAt              `json:"-"              gorm:"index"`
}

// TableName returns the database table name for Property.
func (Property) TableName() string { return "properties" }

// Location is a named geographic area referenced by properties.
type Location struct {
	ID   string `json:"id"   gorm:"type:char(36);primaryKey"`
	Name string `json:"name" gorm:"type:varchar(255);not null;index"`
}

// TableName returns the database table name for Location.
func (Location) TableName() string { return "locations" }

// Developer is a development company referenced by properties.
type Developer struct {
	ID   string `json:"id"   gorm:"type:char(36);primaryKey"`
	Name string `json:"name" gorm:"type:varchar(255);not null;index"`
}

// TableName returns the database table name for Developer.
func (Developer) TableName() string { return "developers" }

// Project is a named development a property may belong to.
type Project struct {
	ID          string `json:"id"           gorm:"type:char(36);primaryKey"`
	Name        string `json:"name"         gorm:"type:varchar(255);not null;index"`
	DeveloperID string `json:"developer_id" gorm:"type:char(36);index"`
}

// TableName returns the database table name for Project.
func (Project) TableName() string { return "projects" }
