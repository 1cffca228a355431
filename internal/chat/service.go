package chat

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parleychat/parley/internal/realtime"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew         = "chat.service.new"
	opResolveOneToOne    = "chat.resolve_one_to_one"
	opCreateGroup        = "chat.create_group"
	opRemoveConversation = "chat.remove_conversation"
	opListConversations  = "chat.list_conversations"
	opGetConversation    = "chat.get_conversation"
	opMarkLatestSeen     = "chat.mark_latest_seen"
	opSendMessage        = "chat.send_message"
	opReconcile          = "chat.reconcile_one_to_one"
)

// ServiceConfig describes the dependencies of the chat service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Events     realtime.Publisher
	Logger     *zap.Logger
}

// Service implements the conversation directory, the seen-state tracker and
// duplicate reconciliation over the durable store. Every operation runs as an
// independent unit of work; races on one-to-one creation are tolerated and
// repaired by reconciliation rather than prevented by locking.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	events     realtime.Publisher
	logger     *zap.Logger
}

// NewService constructs the chat service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(KindIO, opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(KindIO, opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	events := cfg.Events
	if events == nil {
		events = realtime.NewBroadcaster(realtime.NoopTransport{}, cfg.Logger)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		events:     events,
		logger:     logger,
	}, nil
}

// IsMember reports whether the user holds a membership in the conversation.
func (s *Service) IsMember(ctx context.Context, userID, conversationID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Membership{}).
		Where("user_id = ? AND conversation_id = ?", userID, conversationID).
		Count(&count).Error
	if err != nil {
		return false, newServiceError(KindIO, opGetConversation, "membership_query_failed", err)
	}
	return count > 0, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("chat service error", attrs...)
}
