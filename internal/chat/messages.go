package chat

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parleychat/parley/internal/realtime"
)

// SendMessage persists a message in the conversation, advances the
// conversation's last-activity marker monotonically, and fans the result out
// to the conversation channel and every member's personal channel. The
// sender's own seen mark is recorded at send time.
func (s *Service) SendMessage(ctx context.Context, currentUserID UserID, conversationID ConversationID, body, imageURL string) (*Message, error) {
	body = strings.TrimSpace(body)
	imageURL = strings.TrimSpace(imageURL)
	if body == "" && imageURL == "" {
		return nil, newServiceError(KindValidation, opSendMessage, "empty_message", nil)
	}

	var conversation Conversation
	err := s.db.WithContext(ctx).
		Preload("Members.User").
		Where("id = ?", conversationID.String()).
		Take(&conversation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(KindNotFound, opSendMessage, "conversation_missing", err)
	}
	if err != nil {
		s.logError(opSendMessage, "lookup_failed", err, zap.String("conversation_id", conversationID.String()))
		return nil, newServiceError(KindIO, opSendMessage, "lookup_failed", err)
	}
	if !conversation.HasMember(currentUserID.String()) {
		return nil, newServiceError(KindAuthorization, opSendMessage, "not_a_member", nil)
	}

	messageID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSendMessage, "id_generation_failed", err)
		return nil, newServiceError(KindIO, opSendMessage, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	message := Message{
		ID:             messageID,
		ConversationID: conversation.ID,
		SenderID:       currentUserID.String(),
		Body:           body,
		ImageURL:       imageURL,
		CreatedAt:      now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&message).Error; err != nil {
			return err
		}
		senderMark := SeenMark{
			UserID:    currentUserID.String(),
			MessageID: messageID,
			CreatedAt: now,
		}
		if err := tx.Create(&senderMark).Error; err != nil {
			return err
		}
		// last_message_at only ever advances.
		return tx.Model(&Conversation{}).
			Where("id = ? AND last_message_at < ?", conversation.ID, now).
			Update("last_message_at", now).Error
	})
	if txErr != nil {
		s.logError(opSendMessage, "persist_failed", txErr, zap.String("conversation_id", conversation.ID))
		return nil, newServiceError(KindIO, opSendMessage, "persist_failed", txErr)
	}

	stored := &message
	if refreshed, err := s.messageWithSeen(ctx, messageID); err != nil {
		s.logError(opSendMessage, "refresh_failed", err, zap.String("message_id", messageID))
	} else {
		stored = refreshed
	}

	s.events.Publish(ctx, realtime.ConversationChannel(conversation.ID), realtime.EventMessageNew, stored)
	update := ConversationUpdate{
		ID:            conversation.ID,
		LastMessageAt: now,
		Messages:      []Message{*stored},
	}
	for _, member := range conversation.Members {
		s.events.Publish(ctx, realtime.PersonalChannel(member.UserID), realtime.EventConversationUpdate, update)
	}

	return stored, nil
}
