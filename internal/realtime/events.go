package realtime

// Event names fanned out to subscribed clients. Payloads are the persisted
// entities, expanded with the nested member/sender/seen data a client needs
// to render without a follow-up fetch.
const (
	EventConversationNew    = "conversation:new"
	EventConversationRemove = "conversation:remove"
	EventConversationUpdate = "conversation:update"
	EventMessageNew         = "message:new"
	EventMessageUpdate      = "message:update"
	EventUserNew            = "user:new"
)

const (
	personalChannelPrefix     = "user."
	conversationChannelPrefix = "conversation."

	// UsersChannel carries account-level events visible to every
	// authenticated client.
	UsersChannel = "users"
)

// PersonalChannel names the channel scoped to a single user's identity.
func PersonalChannel(userID string) string {
	return personalChannelPrefix + userID
}

// ConversationChannel names the channel scoped to one conversation.
func ConversationChannel(conversationID string) string {
	return conversationChannelPrefix + conversationID
}
