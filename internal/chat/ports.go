//go:generate go run go.uber.org/mock/mockgen -source=ports.go -destination=../mocks/mock_chat_ports.go -package=mocks

package chat

import "context"

// MessageStore durably appends messages and reads history back in creation
// order.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg NewMessage) (*Message, error)
	History(ctx context.Context, ref ConversationRef, limit int) ([]*Message, error)
}

// Directory resolves conversations for authorization. It is read on every
// check; nothing is cached.
type Directory interface {
	// PrivateChat returns ErrNotFound when chatID does not exist.
	PrivateChat(ctx context.Context, chatID int64) (*PrivateChat, error)
	GroupMembership(ctx context.Context, groupID, userID int64) (Membership, error)
}

// ProfileLookup resolves display fields of users at publish time.
type ProfileLookup interface {
	Profiles(ctx context.Context, userIDs ...int64) (map[int64]Profile, error)
}

// Publisher fans a stored message out to the subscribers of its
// conversation.
type Publisher interface {
	Publish(ctx context.Context, ref ConversationRef, msg *Message) error
}

// Conversations covers the bootstrap and listing queries behind the REST
// surface.
type Conversations interface {
	ProfileLookup
	FindOrCreatePrivateChat(ctx context.Context, a, b int64) (*PrivateChat, error)
	CreateGroup(ctx context.Context, g *Group) (*Group, error)
	PrivateChats(ctx context.Context, userID int64) ([]PrivateChatSummary, error)
	Groups(ctx context.Context, userID int64) ([]Group, error)
}
