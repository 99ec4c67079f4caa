package query

import (
	"context"
	"errors"
)

// ErrNotFound is returned by directory lookups when the named entity does not
// exist. The compiler maps it onto the appropriate request error (or, for
// direct-message conversations, onto an unsatisfiable predicate).
var ErrNotFound = errors.New("not found")

// Channel is the directory view of a channel.
type Channel struct {
	ID                         int64
	Name                       string
	RecipientID                int64
	IsPublic                   bool
	IsWebPublic                bool
	HistoryPublicToSubscribers bool
}

// User is the directory view of a user. RecipientID identifies the user's
// personal direct-message conversation.
type User struct {
	ID          int64
	Email       string
	RecipientID int64
	IsGuest     bool
}

// Recipient identifies a conversation's message-recipient row.
type Recipient struct {
	ID      int64
	IsGroup bool // group (3+ member) direct-message conversation
}

// MutedTopic is one muted (channel, topic) pair, identified by the channel's
// message-recipient id.
type MutedTopic struct {
	RecipientID int64
	Topic       string
}

// ChannelDirectory resolves channels and channel-class recipient sets.
// Implementations must not apply per-user access checks on resolution; the
// engine relies on the surrounding compiled query for result-set safety.
type ChannelDirectory interface {
	ChannelByName(ctx context.Context, realmID int64, name string) (*Channel, error)
	ChannelByID(ctx context.Context, realmID, channelID int64) (*Channel, error)
	PublicChannelRecipientIDs(ctx context.Context, realmID int64) ([]int64, error)
	WebPublicChannelRecipientIDs(ctx context.Context, realmID int64) ([]int64, error)
	IsSubscribed(ctx context.Context, userID, channelID int64) (bool, error)
}

// UserDirectory resolves users, including cross-realm system bots (which are
// looked up without a realm scope when the realm-scoped lookup misses).
type UserDirectory interface {
	UserByEmail(ctx context.Context, realmID int64, email string) (*User, error)
	UserByID(ctx context.Context, realmID, userID int64) (*User, error)
}

// ConversationDirectory resolves direct-message conversation recipients.
type ConversationDirectory interface {
	// GroupRecipient returns the recipient for the group conversation whose
	// membership is exactly userIDs. ErrNotFound means the conversation has
	// never existed; the caller treats that as an empty result, not an error.
	GroupRecipient(ctx context.Context, userIDs []int64) (*Recipient, error)

	// GroupRecipientIDsIncluding returns the recipient ids of every group
	// conversation that includes the given user.
	GroupRecipientIDsIncluding(ctx context.Context, userID int64) ([]int64, error)
}

// MuteState reports per-user muting.
type MuteState interface {
	MutedChannelRecipientIDs(ctx context.Context, userID int64) ([]int64, error)

	// MutedTopics returns the user's muted (channel, topic) pairs. When
	// channelID is non-zero, only mutes within that channel are returned.
	MutedTopics(ctx context.Context, userID, channelID int64) ([]MutedTopic, error)
}

// RealmSettings exposes realm-level knobs the engine consumes.
type RealmSettings interface {
	// FirstVisibleMessageID returns the realm's oldest-visible-message
	// watermark; 0 means no floor.
	FirstVisibleMessageID(ctx context.Context, realmID int64) (int64, error)
}

// Directories bundles every external collaborator the engine consumes. It is
// constructed once at startup and injected; the engine holds no ambient
// global state, so tests can substitute fakes freely.
type Directories struct {
	Channels      ChannelDirectory
	Users         UserDirectory
	Conversations ConversationDirectory
	Mutes         MuteState
	Realms        RealmSettings
}
