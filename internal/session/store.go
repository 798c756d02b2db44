package session

import "context"

// Store is the durable conversation-state contract. Implementations
// must survive process restart, tolerate concurrent readers, and
// serialize writers per session.
type Store interface {
	CreateSession(ctx context.Context, key, agent, model string) error
	AppendMessage(ctx context.Context, key string, msg StoredMessage) error
	AddTokens(ctx context.Context, key string, n int64) error
	LoadMessages(ctx context.Context, key string) ([]StoredMessage, error)
	ListSessions(ctx context.Context, agent string, limit int) ([]Info, error)
	LatestSessionKey(ctx context.Context, agent string) (string, bool, error)
	DeleteSession(ctx context.Context, key string) (int, error)
	PruneOldSessions(ctx context.Context, maxAgeDays int) (int, error)
	Close() error
}
