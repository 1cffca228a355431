package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/parleychat/parley/internal/realtime"
)

// MarkLatestSeen records that the user has observed the conversation's most
// recent message. The seen-mark insert is idempotent: repeated or concurrent
// calls produce exactly one mark and no error. A conversation with no
// messages is a no-op returning nil.
//
// Durability of the mark takes precedence over freshness of the echoed
// response: if the post-mark re-fetch fails, the pre-mark snapshot is
// returned instead of an error. Event delivery is best effort and never
// fails the operation.
func (s *Service) MarkLatestSeen(ctx context.Context, currentUserID UserID, conversationID ConversationID) (*Message, error) {
	var conversation Conversation
	err := s.db.WithContext(ctx).
		Preload("Members.User").
		Where("id = ?", conversationID.String()).
		Take(&conversation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(KindNotFound, opMarkLatestSeen, "conversation_missing", err)
	}
	if err != nil {
		s.logError(opMarkLatestSeen, "lookup_failed", err, zap.String("conversation_id", conversationID.String()))
		return nil, newServiceError(KindIO, opMarkLatestSeen, "lookup_failed", err)
	}
	if !conversation.HasMember(currentUserID.String()) {
		return nil, newServiceError(KindAuthorization, opMarkLatestSeen, "not_a_member", nil)
	}

	latest, err := s.latestMessage(ctx, conversation.ID)
	if err != nil {
		s.logError(opMarkLatestSeen, "latest_lookup_failed", err, zap.String("conversation_id", conversation.ID))
		return nil, newServiceError(KindIO, opMarkLatestSeen, "latest_lookup_failed", err)
	}
	if latest == nil {
		return nil, nil
	}

	mark := SeenMark{
		UserID:    currentUserID.String(),
		MessageID: latest.ID,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&mark).Error; err != nil {
		s.logError(opMarkLatestSeen, "mark_insert_failed", err,
			zap.String("user_id", currentUserID.String()),
			zap.String("message_id", latest.ID))
		return nil, newServiceError(KindIO, opMarkLatestSeen, "mark_insert_failed", err)
	}

	// The mark is durable from here on; degrade gracefully if the echo
	// cannot be refreshed.
	message := latest
	if refreshed, err := s.messageWithSeen(ctx, latest.ID); err != nil {
		s.logError(opMarkLatestSeen, "refresh_failed", err, zap.String("message_id", latest.ID))
	} else {
		message = refreshed
	}

	update := ConversationUpdate{
		ID:       conversation.ID,
		Messages: []Message{*message},
	}
	s.events.Publish(ctx, realtime.PersonalChannel(currentUserID.String()), realtime.EventConversationUpdate, update)
	s.events.Publish(ctx, realtime.ConversationChannel(conversation.ID), realtime.EventMessageUpdate, message)

	return message, nil
}

func (s *Service) latestMessage(ctx context.Context, conversationID string) (*Message, error) {
	var message Message
	err := s.db.WithContext(ctx).
		Preload("Sender").
		Preload("SeenBy.User").
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Take(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (s *Service) messageWithSeen(ctx context.Context, messageID string) (*Message, error) {
	var message Message
	err := s.db.WithContext(ctx).
		Preload("Sender").
		Preload("SeenBy.User").
		Where("id = ?", messageID).
		Take(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}
