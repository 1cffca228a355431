package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	credentialAudience   = "parley-realtime"
	defaultCredentialTTL = 5 * time.Minute
)

var (
	ErrMissingCredentialSecret = errors.New("realtime: credential signing secret required")
	ErrMissingConnectionID     = errors.New("realtime: connection id required")
	ErrMissingChannelName      = errors.New("realtime: channel name required")
	ErrMissingUserID           = errors.New("realtime: user id required")
	ErrChannelForbidden        = errors.New("realtime: channel not authorized for user")
	ErrInvalidCredential       = errors.New("realtime: invalid channel credential")
)

// MembershipChecker answers whether a user belongs to a conversation. The
// chat service satisfies it.
type MembershipChecker interface {
	IsMember(ctx context.Context, userID, conversationID string) (bool, error)
}

type channelClaims struct {
	Channel      string `json:"channel"`
	ConnectionID string `json:"connection_id"`
	jwt.RegisteredClaims
}

// ChannelAuthorizer is the gateway that issues per-connection credentials
// for subscribing to event channels. Personal channels are granted only to
// their owner, conversation channels only to members, and the users channel
// to any authenticated caller.
type ChannelAuthorizer struct {
	signingSecret []byte
	memberships   MembershipChecker
	credentialTTL time.Duration
	clock         func() time.Time
}

// ChannelAuthorizerConfig configures a ChannelAuthorizer.
type ChannelAuthorizerConfig struct {
	SigningSecret []byte
	Memberships   MembershipChecker
	CredentialTTL time.Duration
	Clock         func() time.Time
}

// NewChannelAuthorizer constructs the authorizer.
func NewChannelAuthorizer(cfg ChannelAuthorizerConfig) (*ChannelAuthorizer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingCredentialSecret
	}
	ttl := cfg.CredentialTTL
	if ttl <= 0 {
		ttl = defaultCredentialTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ChannelAuthorizer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		memberships:   cfg.Memberships,
		credentialTTL: ttl,
		clock:         clock,
	}, nil
}

// Authorize validates the caller's claim to the channel and, when granted,
// returns a signed credential bound to the connection.
func (a *ChannelAuthorizer) Authorize(ctx context.Context, connectionID, channel, userID string) (string, error) {
	connectionID = strings.TrimSpace(connectionID)
	channel = strings.TrimSpace(channel)
	if userID == "" {
		return "", ErrMissingUserID
	}
	if connectionID == "" {
		return "", ErrMissingConnectionID
	}
	if channel == "" {
		return "", ErrMissingChannelName
	}

	if err := a.checkGrant(ctx, channel, userID); err != nil {
		return "", err
	}

	now := a.clock().UTC()
	claims := channelClaims{
		Channel:      channel,
		ConnectionID: connectionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  []string{credentialAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.credentialTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.signingSecret)
}

// Validate checks a credential against the presenting connection and channel
// and returns the user it was issued to.
func (a *ChannelAuthorizer) Validate(credential, connectionID, channel string) (string, error) {
	claims := &channelClaims{}
	_, err := jwt.ParseWithClaims(
		credential,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidCredential, token.Method.Alg())
			}
			return a.signingSecret, nil
		},
		jwt.WithAudience(credentialAudience),
		jwt.WithTimeFunc(a.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.Channel != channel || claims.ConnectionID != connectionID || claims.Subject == "" {
		return "", ErrInvalidCredential
	}
	return claims.Subject, nil
}

func (a *ChannelAuthorizer) checkGrant(ctx context.Context, channel, userID string) error {
	switch {
	case channel == UsersChannel:
		return nil
	case strings.HasPrefix(channel, personalChannelPrefix):
		if channel != PersonalChannel(userID) {
			return ErrChannelForbidden
		}
		return nil
	case strings.HasPrefix(channel, conversationChannelPrefix):
		if a.memberships == nil {
			return ErrChannelForbidden
		}
		conversationID := strings.TrimPrefix(channel, conversationChannelPrefix)
		member, err := a.memberships.IsMember(ctx, userID, conversationID)
		if err != nil {
			return err
		}
		if !member {
			return ErrChannelForbidden
		}
		return nil
	default:
		return ErrChannelForbidden
	}
}
