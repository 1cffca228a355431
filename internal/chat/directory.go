package chat

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parleychat/parley/internal/realtime"
)

const minimumGroupMembers = 2

// recencyOrder is the single deterministic rule used everywhere a "most
// recently active" conversation must be picked: last message time first,
// then id (UUIDv7, so itself time-ordered).
const recencyOrder = "last_message_at DESC, id DESC"

func expanded(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Members.User").
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Preload("Messages.Sender").
		Preload("Messages.SeenBy.User")
}

// ResolveOneToOne finds or creates the one-to-one conversation between the
// two users. When duplicates exist (a tolerated race artifact) the most
// recently active one is returned; callers must not assume uniqueness at
// this layer. Two concurrent calls for the same pair may each create a
// conversation; ReconcileOneToOne repairs that later.
func (s *Service) ResolveOneToOne(ctx context.Context, currentUserID, otherUserID UserID) (*Conversation, error) {
	if err := s.requireUsers(ctx, opResolveOneToOne, currentUserID.String(), otherUserID.String()); err != nil {
		return nil, err
	}

	var existing []Conversation
	err := s.db.WithContext(ctx).
		Where("is_group = ?", false).
		Where("EXISTS (SELECT 1 FROM memberships m WHERE m.conversation_id = conversations.id AND m.user_id = ?)", currentUserID.String()).
		Where("EXISTS (SELECT 1 FROM memberships m WHERE m.conversation_id = conversations.id AND m.user_id = ?)", otherUserID.String()).
		Order(recencyOrder).
		Preload("Members.User").
		Find(&existing).Error
	if err != nil {
		s.logError(opResolveOneToOne, "lookup_failed", err,
			zap.String("user_id", currentUserID.String()),
			zap.String("other_user_id", otherUserID.String()))
		return nil, newServiceError(KindIO, opResolveOneToOne, "lookup_failed", err)
	}
	if len(existing) > 0 {
		return &existing[0], nil
	}

	memberIDs := []string{currentUserID.String()}
	if otherUserID != currentUserID {
		memberIDs = append(memberIDs, otherUserID.String())
	}
	conversation, err := s.createConversation(ctx, opResolveOneToOne, memberIDs, false, "")
	if err != nil {
		return nil, err
	}

	s.announceConversation(ctx, realtime.EventConversationNew, conversation)
	return conversation, nil
}

// CreateGroup creates a named group conversation containing the creator and
// at least two other members.
func (s *Service) CreateGroup(ctx context.Context, currentUserID UserID, memberIDs []UserID, name string) (*Conversation, error) {
	if strings.TrimSpace(name) == "" {
		return nil, newServiceError(KindValidation, opCreateGroup, "missing_name", nil)
	}

	unique := map[string]struct{}{}
	members := make([]string, 0, len(memberIDs)+1)
	for _, memberID := range memberIDs {
		id := memberID.String()
		if id == currentUserID.String() {
			continue
		}
		if _, ok := unique[id]; ok {
			continue
		}
		unique[id] = struct{}{}
		members = append(members, id)
	}
	if len(members) < minimumGroupMembers {
		return nil, newServiceError(KindValidation, opCreateGroup, "too_few_members", nil)
	}
	members = append(members, currentUserID.String())

	if err := s.requireUsers(ctx, opCreateGroup, members...); err != nil {
		return nil, err
	}

	conversation, err := s.createConversation(ctx, opCreateGroup, members, true, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}

	s.announceConversation(ctx, realtime.EventConversationNew, conversation)
	return conversation, nil
}

// RemoveConversation deletes the conversation with its messages, seen marks
// and memberships as one unit, then notifies every former member. The member
// list is captured before the deletion.
func (s *Service) RemoveConversation(ctx context.Context, currentUserID UserID, conversationID ConversationID) (*Conversation, error) {
	var conversation Conversation
	err := s.db.WithContext(ctx).
		Preload("Members.User").
		Where("id = ?", conversationID.String()).
		Take(&conversation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(KindNotFound, opRemoveConversation, "conversation_missing", err)
	}
	if err != nil {
		s.logError(opRemoveConversation, "lookup_failed", err, zap.String("conversation_id", conversationID.String()))
		return nil, newServiceError(KindIO, opRemoveConversation, "lookup_failed", err)
	}
	if !conversation.HasMember(currentUserID.String()) {
		return nil, newServiceError(KindAuthorization, opRemoveConversation, "not_a_member", nil)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteConversationsCascade(tx, []string{conversation.ID})
	})
	if txErr != nil {
		s.logError(opRemoveConversation, "delete_failed", txErr, zap.String("conversation_id", conversation.ID))
		return nil, newServiceError(KindIO, opRemoveConversation, "delete_failed", txErr)
	}

	s.announceConversation(ctx, realtime.EventConversationRemove, &conversation)
	return &conversation, nil
}

// ListConversations returns the user's conversations, most recently active
// first, expanded with members and messages.
func (s *Service) ListConversations(ctx context.Context, currentUserID UserID) ([]Conversation, error) {
	var conversations []Conversation
	err := expanded(s.db.WithContext(ctx)).
		Where("EXISTS (SELECT 1 FROM memberships m WHERE m.conversation_id = conversations.id AND m.user_id = ?)", currentUserID.String()).
		Order(recencyOrder).
		Find(&conversations).Error
	if err != nil {
		s.logError(opListConversations, "query_failed", err, zap.String("user_id", currentUserID.String()))
		return nil, newServiceError(KindIO, opListConversations, "query_failed", err)
	}
	return conversations, nil
}

// GetConversation returns one expanded conversation after checking the
// caller's membership.
func (s *Service) GetConversation(ctx context.Context, currentUserID UserID, conversationID ConversationID) (*Conversation, error) {
	var conversation Conversation
	err := expanded(s.db.WithContext(ctx)).
		Where("id = ?", conversationID.String()).
		Take(&conversation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(KindNotFound, opGetConversation, "conversation_missing", err)
	}
	if err != nil {
		s.logError(opGetConversation, "lookup_failed", err, zap.String("conversation_id", conversationID.String()))
		return nil, newServiceError(KindIO, opGetConversation, "lookup_failed", err)
	}
	if !conversation.HasMember(currentUserID.String()) {
		return nil, newServiceError(KindAuthorization, opGetConversation, "not_a_member", nil)
	}
	return &conversation, nil
}

func (s *Service) createConversation(ctx context.Context, operation string, memberIDs []string, isGroup bool, name string) (*Conversation, error) {
	conversationID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return nil, newServiceError(KindIO, operation, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	conversation := Conversation{
		ID:            conversationID,
		Name:          name,
		IsGroup:       isGroup,
		LastMessageAt: now,
		CreatedAt:     now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conversation).Error; err != nil {
			return err
		}
		for _, memberID := range memberIDs {
			membership := Membership{
				UserID:         memberID,
				ConversationID: conversationID,
			}
			if err := tx.Create(&membership).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(operation, "create_failed", txErr)
		return nil, newServiceError(KindIO, operation, "create_failed", txErr)
	}

	var created Conversation
	if err := s.db.WithContext(ctx).Preload("Members.User").Where("id = ?", conversationID).Take(&created).Error; err != nil {
		s.logError(operation, "reload_failed", err, zap.String("conversation_id", conversationID))
		return nil, newServiceError(KindIO, operation, "reload_failed", err)
	}
	return &created, nil
}

// announceConversation fans the event out to every member's personal
// channel. Delivery is best effort; outcomes are logged by the broadcaster.
func (s *Service) announceConversation(ctx context.Context, event string, conversation *Conversation) {
	for _, member := range conversation.Members {
		s.events.Publish(ctx, realtime.PersonalChannel(member.UserID), event, conversation)
	}
}

func (s *Service) requireUsers(ctx context.Context, operation string, userIDs ...string) error {
	unique := map[string]struct{}{}
	for _, id := range userIDs {
		unique[id] = struct{}{}
	}
	ids := make([]string, 0, len(unique))
	for id := range unique {
		ids = append(ids, id)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
		s.logError(operation, "user_lookup_failed", err)
		return newServiceError(KindIO, operation, "user_lookup_failed", err)
	}
	if count != int64(len(ids)) {
		return newServiceError(KindNotFound, operation, "unknown_user", nil)
	}
	return nil
}

func deleteConversationsCascade(tx *gorm.DB, conversationIDs []string) error {
	if len(conversationIDs) == 0 {
		return nil
	}
	if err := tx.
		Where("message_id IN (SELECT id FROM messages WHERE conversation_id IN ?)", conversationIDs).
		Delete(&SeenMark{}).Error; err != nil {
		return err
	}
	if err := tx.Where("conversation_id IN ?", conversationIDs).Delete(&Message{}).Error; err != nil {
		return err
	}
	if err := tx.Where("conversation_id IN ?", conversationIDs).Delete(&Membership{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", conversationIDs).Delete(&Conversation{}).Error
}
