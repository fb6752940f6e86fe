package core

import "context"

// ConversationStore is the read side of the external conversation store.
type ConversationStore interface {
	// ListRecentConversations returns up to limit conversations, most
	// recently updated first.
	ListRecentConversations(ctx context.Context, limit int) ([]Conversation, error)
	// LoadConversation returns ErrConversationNotFound when id is absent.
	LoadConversation(ctx context.Context, id string) (*Conversation, error)
}

// WatchableStore exposes where the store lives on disk so file-system
// notifications can be mapped back to conversations.
type WatchableStore interface {
	ConversationStore
	WatchPath() string
	// ResolveChange maps a changed path to a conversation id. An empty id with
	// ok=true means "something changed, rescan".
	ResolveChange(path string) (id string, ok bool)
}
