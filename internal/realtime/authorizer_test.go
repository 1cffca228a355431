package realtime

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubMemberships struct {
	members map[string][]string
}

func (s stubMemberships) IsMember(_ context.Context, userID, conversationID string) (bool, error) {
	for _, member := range s.members[conversationID] {
		if member == userID {
			return true, nil
		}
	}
	return false, nil
}

func newTestAuthorizer(t *testing.T) *ChannelAuthorizer {
	t.Helper()
	authorizer, err := NewChannelAuthorizer(ChannelAuthorizerConfig{
		SigningSecret: []byte("test-channel-secret"),
		Memberships: stubMemberships{members: map[string][]string{
			"conv-1": {"alice", "bob"},
		}},
	})
	if err != nil {
		t.Fatalf("failed to construct authorizer: %v", err)
	}
	return authorizer
}

func TestAuthorizeRejectsMissingParameters(t *testing.T) {
	authorizer := newTestAuthorizer(t)

	if _, err := authorizer.Authorize(context.Background(), "", PersonalChannel("alice"), "alice"); !errors.Is(err, ErrMissingConnectionID) {
		t.Fatalf("expected missing connection id error, got %v", err)
	}
	if _, err := authorizer.Authorize(context.Background(), "conn-1", "", "alice"); !errors.Is(err, ErrMissingChannelName) {
		t.Fatalf("expected missing channel error, got %v", err)
	}
	if _, err := authorizer.Authorize(context.Background(), "conn-1", PersonalChannel("alice"), ""); !errors.Is(err, ErrMissingUserID) {
		t.Fatalf("expected missing user error, got %v", err)
	}
}

func TestAuthorizePersonalChannelOwnership(t *testing.T) {
	authorizer := newTestAuthorizer(t)

	credential, err := authorizer.Authorize(context.Background(), "conn-1", PersonalChannel("alice"), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if credential == "" {
		t.Fatal("expected a signed credential")
	}

	if _, err := authorizer.Authorize(context.Background(), "conn-1", PersonalChannel("alice"), "bob"); !errors.Is(err, ErrChannelForbidden) {
		t.Fatalf("expected forbidden error for another user's personal channel, got %v", err)
	}
}

func TestAuthorizeConversationChannelRequiresMembership(t *testing.T) {
	authorizer := newTestAuthorizer(t)

	if _, err := authorizer.Authorize(context.Background(), "conn-1", ConversationChannel("conv-1"), "alice"); err != nil {
		t.Fatalf("unexpected error for a member: %v", err)
	}
	if _, err := authorizer.Authorize(context.Background(), "conn-1", ConversationChannel("conv-1"), "mallory"); !errors.Is(err, ErrChannelForbidden) {
		t.Fatalf("expected forbidden error for a non-member, got %v", err)
	}
	if _, err := authorizer.Authorize(context.Background(), "conn-1", "weird-channel", "alice"); !errors.Is(err, ErrChannelForbidden) {
		t.Fatalf("expected forbidden error for an unknown channel shape, got %v", err)
	}
}

func TestValidateBindsCredentialToConnectionAndChannel(t *testing.T) {
	authorizer := newTestAuthorizer(t)

	credential, err := authorizer.Authorize(context.Background(), "conn-1", ConversationChannel("conv-1"), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	subject, err := authorizer.Validate(credential, "conn-1", ConversationChannel("conv-1"))
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if subject != "alice" {
		t.Fatalf("expected subject alice, got %s", subject)
	}

	if _, err := authorizer.Validate(credential, "conn-2", ConversationChannel("conv-1")); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected rejection for another connection, got %v", err)
	}
	if _, err := authorizer.Validate(credential, "conn-1", ConversationChannel("conv-2")); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected rejection for another channel, got %v", err)
	}
}

func TestValidateRejectsExpiredCredential(t *testing.T) {
	issuedAt := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	current := issuedAt
	authorizer, err := NewChannelAuthorizer(ChannelAuthorizerConfig{
		SigningSecret: []byte("test-channel-secret"),
		CredentialTTL: time.Minute,
		Clock:         func() time.Time { return current },
	})
	if err != nil {
		t.Fatalf("failed to construct authorizer: %v", err)
	}

	credential, err := authorizer.Authorize(context.Background(), "conn-1", UsersChannel, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	current = issuedAt.Add(2 * time.Minute)
	if _, err := authorizer.Validate(credential, "conn-1", UsersChannel); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected expiry rejection, got %v", err)
	}
}
