package chat

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReconcileResult reports how many duplicate conversations a reconciliation
// pass removed.
type ReconcileResult struct {
	DeletedCount int64 `json:"deletedCount"`
}

// ReconcileOneToOne removes duplicate one-to-one conversations the user
// holds with the same peer, keeping the most recently active one per peer.
// Messages, seen marks and memberships of the losers are deleted with them
// in a single transaction. Running it again with no new duplicates is a
// no-op returning a zero count.
//
// Self-conversations carry a single membership row and are skipped, since
// they cannot be grouped by an "other" member.
func (s *Service) ReconcileOneToOne(ctx context.Context, currentUserID UserID) (ReconcileResult, error) {
	var conversations []Conversation
	err := s.db.WithContext(ctx).
		Where("is_group = ?", false).
		Where("EXISTS (SELECT 1 FROM memberships m WHERE m.conversation_id = conversations.id AND m.user_id = ?)", currentUserID.String()).
		Order(recencyOrder).
		Preload("Members").
		Find(&conversations).Error
	if err != nil {
		s.logError(opReconcile, "scan_failed", err, zap.String("user_id", currentUserID.String()))
		return ReconcileResult{}, newServiceError(KindIO, opReconcile, "scan_failed", err)
	}

	keptByPeer := map[string]string{}
	var losers []string
	for _, conversation := range conversations {
		peerID := ""
		for _, member := range conversation.Members {
			if member.UserID != currentUserID.String() {
				peerID = member.UserID
				break
			}
		}
		if peerID == "" {
			continue
		}
		if _, ok := keptByPeer[peerID]; !ok {
			keptByPeer[peerID] = conversation.ID
			continue
		}
		losers = append(losers, conversation.ID)
	}

	if len(losers) == 0 {
		return ReconcileResult{DeletedCount: 0}, nil
	}

	var deleted int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("message_id IN (SELECT id FROM messages WHERE conversation_id IN ?)", losers).
			Delete(&SeenMark{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id IN ?", losers).Delete(&Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id IN ?", losers).Delete(&Membership{}).Error; err != nil {
			return err
		}
		result := tx.Where("id IN ?", losers).Delete(&Conversation{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	if txErr != nil {
		s.logError(opReconcile, "delete_failed", txErr, zap.String("user_id", currentUserID.String()))
		return ReconcileResult{}, newServiceError(KindIO, opReconcile, "delete_failed", txErr)
	}

	s.logger.Info("duplicate conversations reconciled",
		zap.String("user_id", currentUserID.String()),
		zap.Int64("deleted", deleted))
	return ReconcileResult{DeletedCount: deleted}, nil
}

// ReconcileAll runs a reconciliation pass for every user that currently
// holds at least one one-to-one conversation.
func (s *Service) ReconcileAll(ctx context.Context) (int64, error) {
	var userIDs []string
	err := s.db.WithContext(ctx).
		Model(&Membership{}).
		Distinct("memberships.user_id").
		Joins("JOIN conversations c ON c.id = memberships.conversation_id AND c.is_group = ?", false).
		Pluck("memberships.user_id", &userIDs).Error
	if err != nil {
		s.logError(opReconcile, "user_scan_failed", err)
		return 0, newServiceError(KindIO, opReconcile, "user_scan_failed", err)
	}

	var total int64
	for _, rawID := range userIDs {
		userID, err := NewUserID(rawID)
		if err != nil {
			continue
		}
		result, err := s.ReconcileOneToOne(ctx, userID)
		if err != nil {
			return total, err
		}
		total += result.DeletedCount
	}
	return total, nil
}

// RunReconciliation periodically sweeps duplicates for all users until ctx
// is cancelled. Failures are logged and the next tick retries.
func (s *Service) RunReconciliation(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ReconcileAll(ctx); err != nil {
				s.logger.Warn("reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}
