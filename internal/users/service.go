package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/parleychat/parley/internal/chat"
	"github.com/parleychat/parley/internal/realtime"
)

const bcryptCost = 12

var (
	// ErrInvalidRegistration indicates missing or malformed registration fields.
	ErrInvalidRegistration = errors.New("users: email, name and password are required")
	// ErrEmailInUse indicates the email already belongs to an account.
	ErrEmailInUse = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates a failed email/password check.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrUserNotFound indicates no account exists for the identifier.
	ErrUserNotFound = errors.New("users: user not found")
)

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider chat.IDProvider
	Events     realtime.Publisher
	Logger     *zap.Logger
}

// Service manages account registration and credential checks. Credential
// federation (OAuth and the like) is an external concern; this service only
// covers directly registered accounts.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider chat.IDProvider
	events     realtime.Publisher
	logger     *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
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
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		now:        clock,
		idProvider: cfg.IDProvider,
		events:     events,
		logger:     logger,
	}, nil
}

// Register creates an account with a bcrypt-hashed password and announces it
// on the shared users channel. Announcement failures never fail the
// registration.
func (s *Service) Register(ctx context.Context, email, name, password string) (*chat.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	if email == "" || name == "" || password == "" {
		return nil, ErrInvalidRegistration
	}

	var existing chat.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return nil, ErrEmailInUse
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, err
	}
	userID, err := s.idProvider.NewID()
	if err != nil {
		return nil, err
	}

	user := chat.User{
		ID:           userID,
		Email:        email,
		DisplayName:  name,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}

	s.events.Publish(ctx, realtime.UsersChannel, realtime.EventUserNew, user)
	return &user, nil
}

// Authenticate verifies the email/password pair and returns the account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*chat.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user chat.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// Get returns the account for the identifier.
func (s *Service) Get(ctx context.Context, userID string) (*chat.User, error) {
	var user chat.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// List returns every account except the excluded one, newest first.
func (s *Service) List(ctx context.Context, excludeUserID string) ([]chat.User, error) {
	var accounts []chat.User
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if excludeUserID != "" {
		query = query.Where("id <> ?", excludeUserID)
	}
	if err := query.Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}
