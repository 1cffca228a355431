package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/parleychat/parley/internal/realtime"
)

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustConversationID(t *testing.T, value string) ConversationID {
	t.Helper()
	id, err := NewConversationID(value)
	if err != nil {
		t.Fatalf("unexpected conversation id error: %v", err)
	}
	return id
}

// stepClock hands out strictly increasing timestamps so recency ordering is
// deterministic in tests.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordedEvent struct {
	Channel string
	Event   string
	Payload interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, channel, event string, payload interface{}) realtime.Outcome {
	p.mu.Lock()
	p.events = append(p.events, recordedEvent{Channel: channel, Event: event, Payload: payload})
	p.mu.Unlock()
	return realtime.Outcome{Channel: channel, Event: event, Delivered: true}
}

func (p *recordingPublisher) recorded() []recordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recordedEvent(nil), p.events...)
}

func (p *recordingPublisher) count(channel, event string) int {
	total := 0
	for _, recorded := range p.recorded() {
		if recorded.Channel == channel && recorded.Event == event {
			total++
		}
	}
	return total
}

type failingTransport struct{}

func (failingTransport) Publish(context.Context, string, string, interface{}) error {
	return fmt.Errorf("transport unavailable")
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:parley_chat_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&User{}, &Conversation{}, &Membership{}, &Message{}, &SeenMark{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *recordingPublisher, *stepClock) {
	t.Helper()
	db := newTestDB(t)
	publisher := &recordingPublisher{}
	clock := newStepClock()
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: NewUUIDProvider(),
		Events:     publisher,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db, publisher, clock
}

func seedUser(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	user := User{
		ID:          id,
		Email:       id + "@example.com",
		DisplayName: id,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user %s: %v", id, err)
	}
}

// seedConversation inserts a one-to-one conversation directly, bypassing the
// directory, the way a creation race would.
func seedConversation(t *testing.T, db *gorm.DB, id string, lastMessageAt time.Time, memberIDs ...string) {
	t.Helper()
	conversation := Conversation{
		ID:            id,
		IsGroup:       false,
		LastMessageAt: lastMessageAt,
		CreatedAt:     lastMessageAt,
	}
	if err := db.Create(&conversation).Error; err != nil {
		t.Fatalf("failed to seed conversation %s: %v", id, err)
	}
	seen := map[string]struct{}{}
	for _, memberID := range memberIDs {
		if _, ok := seen[memberID]; ok {
			continue
		}
		seen[memberID] = struct{}{}
		if err := db.Create(&Membership{UserID: memberID, ConversationID: id}).Error; err != nil {
			t.Fatalf("failed to seed membership: %v", err)
		}
	}
}

func seedMessage(t *testing.T, db *gorm.DB, id, conversationID, senderID string, createdAt time.Time) {
	t.Helper()
	message := Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           "seeded " + id,
		CreatedAt:      createdAt,
	}
	if err := db.Create(&message).Error; err != nil {
		t.Fatalf("failed to seed message %s: %v", id, err)
	}
}
