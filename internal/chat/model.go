package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("chat: invalid user id")
	// ErrInvalidConversationID indicates that a conversation identifier is empty or exceeds storage bounds.
	ErrInvalidConversationID = errors.New("chat: invalid conversation id")
)

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// ConversationID represents a validated conversation identifier.
type ConversationID string

// NewConversationID validates raw input and returns a ConversationID.
func NewConversationID(rawInput string) (ConversationID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidConversationID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidConversationID, maxIdentifierLength)
	}
	return ConversationID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ConversationID) String() string {
	return string(id)
}

// User is a registered account. Credentials are persisted here but never
// serialized to clients or event payloads.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex" json:"email"`
	DisplayName  string    `gorm:"column:display_name;size:320" json:"name"`
	AvatarURL    string    `gorm:"column:avatar_url;size:512" json:"image"`
	PasswordHash string    `gorm:"column:password_hash;size:190" json:"-"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"-"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Conversation is a one-to-one or group thread. LastMessageAt advances
// monotonically on each accepted message and drives recency ordering.
type Conversation struct {
	ID            string       `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Name          string       `gorm:"column:name;size:320" json:"name"`
	IsGroup       bool         `gorm:"column:is_group;not null;default:false" json:"isGroup"`
	LastMessageAt time.Time    `gorm:"column:last_message_at;index" json:"lastMessageAt"`
	CreatedAt     time.Time    `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	Members       []Membership `gorm:"foreignKey:ConversationID" json:"members,omitempty"`
	Messages      []Message    `gorm:"foreignKey:ConversationID" json:"messages,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Conversation) TableName() string {
	return "conversations"
}

// Membership joins a user to a conversation. The composite primary key
// enforces uniqueness on (user, conversation); a self-conversation therefore
// collapses to a single row.
type Membership struct {
	UserID         string    `gorm:"column:user_id;primaryKey;size:190;not null" json:"userId"`
	ConversationID string    `gorm:"column:conversation_id;primaryKey;size:190;not null;index" json:"conversationId"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"-"`
	User           *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Membership) TableName() string {
	return "memberships"
}

// Message is immutable after creation except for its seen set. Ordering is
// by CreatedAt with id as the tie-break; ids are UUIDv7 so the tie-break is
// itself time-ordered.
type Message struct {
	ID             string     `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	ConversationID string     `gorm:"column:conversation_id;size:190;not null;index:idx_messages_conversation_created,priority:1" json:"conversationId"`
	SenderID       string     `gorm:"column:sender_id;size:190;not null" json:"senderId"`
	Body           string     `gorm:"column:body;type:text" json:"body"`
	ImageURL       string     `gorm:"column:image_url;size:512" json:"image"`
	CreatedAt      time.Time  `gorm:"column:created_at;index:idx_messages_conversation_created,priority:2" json:"createdAt"`
	Sender         *User      `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	SeenBy         []SeenMark `gorm:"foreignKey:MessageID" json:"seenBy,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "messages"
}

// SeenMark records that a user has observed a message. Rows are created by
// insert-or-ignore and never updated or deleted outside conversation removal.
type SeenMark struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null" json:"userId"`
	MessageID string    `gorm:"column:message_id;primaryKey;size:190;not null;index" json:"messageId"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (SeenMark) TableName() string {
	return "seen_marks"
}

// ConversationUpdate is the payload fanned out on personal channels when a
// conversation's message state changes.
type ConversationUpdate struct {
	ID            string    `json:"id"`
	LastMessageAt time.Time `json:"lastMessageAt,omitempty"`
	Messages      []Message `json:"messages"`
}

// HasMember reports whether the preloaded member set contains the user.
func (c *Conversation) HasMember(userID string) bool {
	for _, member := range c.Members {
		if member.UserID == userID {
			return true
		}
	}
	return false
}
