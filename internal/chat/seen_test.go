package chat

import (
	"context"
	"testing"
	"time"

	"github.com/parleychat/parley/internal/realtime"
)

func TestMarkLatestSeenIdempotent(t *testing.T) {
	service, db, _, clock := newTestService(t)
	seedUser(t, db, "alice")
	seedUser(t, db, "bob")
	seedConversation(t, db, "conv-1", clock.Now(), "alice", "bob")
	seedMessage(t, db, "msg-1", "conv-1", "alice", clock.Now())

	for attempt := 0; attempt < 3; attempt++ {
		message, err := service.MarkLatestSeen(context.Background(), mustUserID(t, "bob"), mustConversationID(t, "conv-1"))
		if err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", attempt, err)
		}
		if message == nil || message.ID != "msg-1" {
			t.Fatalf("attempt %d: expected latest message msg-1, got %+v", attempt, message)
		}
	}

	var marks int64
	if err := db.Model(&SeenMark{}).Where("user_id = ? AND message_id = ?", "bob", "msg-1").Count(&marks).Error; err != nil {
		t.Fatalf("failed to count seen marks: %v", err)
	}
	if marks != 1 {
		t.Fatalf("expected exactly one seen mark, got %d", marks)
	}
}

func TestMarkLatestSeenEmptyConversation(t *testing.T) {
	service, db, publisher, clock := newTestService(t)
	seedUser(t, db, "alice")
	seedUser(t, db, "bob")
	seedConversation(t, db, "conv-1", clock.Now(), "alice", "bob")

	message, err := service.MarkLatestSeen(context.Background(), mustUserID(t, "bob"), mustConversationID(t, "conv-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if message != nil {
		t.Fatalf("expected nil message for an empty conversation, got %+v", message)
	}
	if len(publisher.recorded()) != 0 {
		t.Fatalf("expected no events for an empty conversation")
	}
}

func TestMarkLatestSeenRequiresMembership(t *testing.T) {
	service, db, _, clock := newTestService(t)
	seedUser(t, db, "alice")
	seedUser(t, db, "bob")
	seedUser(t, db, "mallory")
	seedConversation(t, db, "conv-1", clock.Now(), "alice", "bob")
	seedMessage(t, db, "msg-1", "conv-1", "alice", clock.Now())

	_, err := service.MarkLatestSeen(context.Background(), mustUserID(t, "mallory"), mustConversationID(t, "conv-1"))
	if !IsAuthorization(err) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestMarkLatestSeenPicksNewestMessage(t *testing.T) {
	service, db, _, _ := newTestService(t)
	seedUser(t, db, "alice")
	seedUser(t, db, "bob")
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedConversation(t, db, "conv-1", base, "alice", "bob")
	seedMessage(t, db, "msg-a", "conv-1", "alice", base.Add(time.Second))
	seedMessage(t, db, "msg-b", "conv-1", "alice", base.Add(2*time.Second))
	// Same timestamp as msg-b: the id tie-break decides.
	seedMessage(t, db, "msg-c", "conv-1", "alice", base.Add(2*time.Second))

	message, err := service.MarkLatestSeen(context.Background(), mustUserID(t, "bob"), mustConversationID(t, "conv-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if message.ID != "msg-c" {
		t.Fatalf("expected msg-c as the latest message, got %s", message.ID)
	}
}

func TestMarkLatestSeenEmitsUpdateEvents(t *testing.T) {
	service, db, publisher, clock := newTestService(t)
	seedUser(t, db, "alice")
	seedUser(t, db, "bob")
	seedConversation(t, db, "conv-1", clock.Now(), "alice", "bob")
	seedMessage(t, db, "msg-1", "conv-1", "alice", clock.Now())

	if _, err := service.MarkLatestSeen(context.Background(), mustUserID(t, "bob"), mustConversationID(t, "conv-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if publisher.count(realtime.PersonalChannel("bob"), realtime.EventConversationUpdate) != 1 {
		t.Fatalf("expected conversation:update on the caller's personal channel")
	}
	if publisher.count(realtime.ConversationChannel("conv-1"), realtime.EventMessageUpdate) != 1 {
		t.Fatalf("expected message:update on the conversation channel")
	}

	for _, recorded := range publisher.recorded() {
		if recorded.Event != realtime.EventConversationUpdate {
			continue
		}
		update, ok := recorded.Payload.(ConversationUpdate)
		if !ok {
			t.Fatalf("expected ConversationUpdate payload, got %T", recorded.Payload)
		}
		if update.ID != "conv-1" || len(update.Messages) != 1 {
			t.Fatalf("unexpected update payload: %+v", update)
		}
		if len(update.Messages[0].SeenBy) == 0 {
			t.Fatalf("expected the echoed message to carry its seen set")
		}
	}
}

func TestMarkLatestSeenSucceedsWhenDeliveryFails(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "alice")
	seedUser(t, db, "bob")
	now := time.Now().UTC()
	seedConversation(t, db, "conv-1", now, "alice", "bob")
	seedMessage(t, db, "msg-1", "conv-1", "alice", now)

	service, err := NewService(ServiceConfig{
		Database:   db,
		IDProvider: NewUUIDProvider(),
		Events:     realtime.NewBroadcaster(failingTransport{}, nil),
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	message, err := service.MarkLatestSeen(context.Background(), mustUserID(t, "bob"), mustConversationID(t, "conv-1"))
	if err != nil {
		t.Fatalf("expected the primary operation to succeed despite delivery failure, got %v", err)
	}
	if message == nil || message.ID != "msg-1" {
		t.Fatalf("expected msg-1, got %+v", message)
	}

	var marks int64
	if err := db.Model(&SeenMark{}).Where("user_id = ?", "bob").Count(&marks).Error; err != nil {
		t.Fatalf("failed to count seen marks: %v", err)
	}
	if marks != 1 {
		t.Fatalf("expected the seen mark to be durable, got %d rows", marks)
	}
}
