// Package dbtest provides shared database test helpers for seeding and
// querying test databases. It is designed to be importable from any test
// package without circular dependency issues (it does not import
// internal/query or internal/store; the schema is loaded from disk).
package dbtest

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// TestDB wraps a *sql.DB with auto-increment counters and builder helpers
// for seeding test data.
type TestDB struct {
	DB *sql.DB
	T  testing.TB

	nextRecipientID int64
	nextUserID      int64
	nextChannelID   int64
	nextMessageID   int64
}

// NewTestDB creates an in-memory SQLite database with the production schema
// loaded. schemaPath is the path to schema.sql (e.g. "../store/schema.sql"
// from the caller's package). The FTS table is not created; call EnableFTS
// for tests that need it.
func NewTestDB(t testing.TB, schemaPath string) *TestDB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile(schemaPath)
	if err != nil {
		t.Fatalf("read schema.sql: %v", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	return &TestDB{
		DB:              db,
		T:               t,
		nextRecipientID: 100,
		nextUserID:      100,
		nextChannelID:   100,
		nextMessageID:   100,
	}
}

// AddRealm inserts a realm and returns its ID.
func (tdb *TestDB) AddRealm(id int64, name string) int64 {
	tdb.T.Helper()
	_, err := tdb.DB.Exec(
		`INSERT INTO realms (id, name, string_id) VALUES (?, ?, ?)`,
		id, name, name)
	if err != nil {
		tdb.T.Fatalf("AddRealm: %v", err)
	}
	return id
}

// SetFirstVisibleMessageID sets the realm's history watermark.
func (tdb *TestDB) SetFirstVisibleMessageID(realmID, messageID int64) {
	tdb.T.Helper()
	_, err := tdb.DB.Exec(
		`UPDATE realms SET first_visible_message_id = ? WHERE id = ?`, messageID, realmID)
	if err != nil {
		tdb.T.Fatalf("SetFirstVisibleMessageID: %v", err)
	}
}

// newRecipient inserts a recipient row and returns its ID.
func (tdb *TestDB) newRecipient(isGroup bool) int64 {
	tdb.T.Helper()
	id := tdb.nextRecipientID
	tdb.nextRecipientID++
	_, err := tdb.DB.Exec(`INSERT INTO recipients (id, is_group) VALUES (?, ?)`, id, isGroup)
	if err != nil {
		tdb.T.Fatalf("newRecipient: %v", err)
	}
	return id
}

// UserOpts configures a user to insert.
type UserOpts struct {
	Email      string // required
	RealmID    int64  // defaults to 1; ignored when CrossRealm
	IsGuest    bool
	CrossRealm bool // system bot with no realm
}

// AddUser inserts a user with a personal direct-message recipient and
// returns its ID.
func (tdb *TestDB) AddUser(opts UserOpts) int64 {
	tdb.T.Helper()
	if opts.Email == "" {
		tdb.T.Fatalf("AddUser: Email is required")
	}
	if opts.RealmID == 0 {
		opts.RealmID = 1
	}

	recipientID := tdb.newRecipient(false)
	id := tdb.nextUserID
	tdb.nextUserID++

	var realm any = opts.RealmID
	if opts.CrossRealm {
		realm = nil
	}
	_, err := tdb.DB.Exec(
		`INSERT INTO users (id, realm_id, email, recipient_id, is_guest) VALUES (?, ?, ?, ?, ?)`,
		id, realm, opts.Email, recipientID, opts.IsGuest)
	if err != nil {
		tdb.T.Fatalf("AddUser: %v", err)
	}
	return id
}

// UserRecipientID returns the personal recipient ID for a user.
func (tdb *TestDB) UserRecipientID(userID int64) int64 {
	tdb.T.Helper()
	var id int64
	if err := tdb.DB.QueryRow(`SELECT recipient_id FROM users WHERE id = ?`, userID).Scan(&id); err != nil {
		tdb.T.Fatalf("UserRecipientID(%d): %v", userID, err)
	}
	return id
}

// ChannelOpts configures a channel to insert.
type ChannelOpts struct {
	Name          string // required
	RealmID       int64  // defaults to 1
	Private       bool
	WebPublic     bool
	ProtectedHist bool // history not public to subscribers
}

// AddChannel inserts a channel with its recipient and returns the channel ID.
func (tdb *TestDB) AddChannel(opts ChannelOpts) int64 {
	tdb.T.Helper()
	if opts.Name == "" {
		tdb.T.Fatalf("AddChannel: Name is required")
	}
	if opts.RealmID == 0 {
		opts.RealmID = 1
	}

	recipientID := tdb.newRecipient(false)
	id := tdb.nextChannelID
	tdb.nextChannelID++

	_, err := tdb.DB.Exec(
		`INSERT INTO channels (id, realm_id, name, recipient_id, is_public, is_web_public, history_public_to_subscribers)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, opts.RealmID, opts.Name, recipientID, !opts.Private, opts.WebPublic, !opts.ProtectedHist)
	if err != nil {
		tdb.T.Fatalf("AddChannel: %v", err)
	}
	return id
}

// ChannelRecipientID returns the recipient ID for a channel.
func (tdb *TestDB) ChannelRecipientID(channelID int64) int64 {
	tdb.T.Helper()
	var id int64
	if err := tdb.DB.QueryRow(`SELECT recipient_id FROM channels WHERE id = ?`, channelID).Scan(&id); err != nil {
		tdb.T.Fatalf("ChannelRecipientID(%d): %v", channelID, err)
	}
	return id
}

// Subscribe adds an active subscription for the user to a channel.
func (tdb *TestDB) Subscribe(userID, channelID int64) {
	tdb.T.Helper()
	_, err := tdb.DB.Exec(
		`INSERT INTO subscriptions (user_id, recipient_id, active, is_muted) VALUES (?, ?, 1, 0)`,
		userID, tdb.ChannelRecipientID(channelID))
	if err != nil {
		tdb.T.Fatalf("Subscribe: %v", err)
	}
}

// MuteChannel marks the user's subscription to a channel as muted,
// subscribing first if needed.
func (tdb *TestDB) MuteChannel(userID, channelID int64) {
	tdb.T.Helper()
	recipientID := tdb.ChannelRecipientID(channelID)
	_, err := tdb.DB.Exec(
		`INSERT INTO subscriptions (user_id, recipient_id, active, is_muted) VALUES (?, ?, 1, 1)
		 ON CONFLICT(user_id, recipient_id) DO UPDATE SET is_muted = 1`,
		userID, recipientID)
	if err != nil {
		tdb.T.Fatalf("MuteChannel: %v", err)
	}
}

// MuteTopic records a muted (channel, topic) pair for the user.
func (tdb *TestDB) MuteTopic(userID, channelID int64, topic string) {
	tdb.T.Helper()
	_, err := tdb.DB.Exec(
		`INSERT INTO muted_topics (user_id, recipient_id, topic) VALUES (?, ?, ?)`,
		userID, tdb.ChannelRecipientID(channelID), topic)
	if err != nil {
		tdb.T.Fatalf("MuteTopic: %v", err)
	}
}

// AddGroupConversation creates a group direct-message recipient with the
// given members and returns its recipient ID.
func (tdb *TestDB) AddGroupConversation(memberIDs ...int64) int64 {
	tdb.T.Helper()
	recipientID := tdb.newRecipient(true)
	for _, uid := range memberIDs {
		if _, err := tdb.DB.Exec(
			`INSERT INTO conversation_members (recipient_id, user_id) VALUES (?, ?)`,
			recipientID, uid); err != nil {
			tdb.T.Fatalf("AddGroupConversation member %d: %v", uid, err)
		}
	}
	return recipientID
}

// MessageOpts configures a message to insert.
type MessageOpts struct {
	RealmID     int64 // defaults to 1
	SenderID    int64 // required
	RecipientID int64 // required; channel, personal, or group recipient
	Topic       string
	Content     string
	SentAt      int64 // unix seconds; defaults to a fixed instant
	IsDM        bool
	HasAttach   bool
	HasImage    bool
	HasLink     bool
	DeliverTo   []int64 // user IDs to create delivery rows for
	Flags       int64   // flags for all delivery rows
}

// AddMessage inserts a message plus delivery rows and returns its ID.
// Message IDs are strictly increasing in insertion order.
func (tdb *TestDB) AddMessage(opts MessageOpts) int64 {
	tdb.T.Helper()
	if opts.SenderID == 0 || opts.RecipientID == 0 {
		tdb.T.Fatalf("AddMessage: SenderID and RecipientID are required")
	}
	if opts.RealmID == 0 {
		opts.RealmID = 1
	}
	if opts.SentAt == 0 {
		opts.SentAt = 1700000000
	}

	id := tdb.nextMessageID
	tdb.nextMessageID++

	_, err := tdb.DB.Exec(
		`INSERT INTO messages (id, realm_id, sender_id, recipient_id, topic, content, sent_at, is_dm, has_attachment, has_image, has_link)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, opts.RealmID, opts.SenderID, opts.RecipientID, opts.Topic, opts.Content,
		opts.SentAt, opts.IsDM, opts.HasAttach, opts.HasImage, opts.HasLink)
	if err != nil {
		tdb.T.Fatalf("AddMessage: %v", err)
	}

	for _, uid := range opts.DeliverTo {
		tdb.Deliver(uid, id, opts.Flags)
	}
	return id
}

// Deliver inserts (or replaces) a delivery row for the user.
func (tdb *TestDB) Deliver(userID, messageID, flags int64) {
	tdb.T.Helper()
	_, err := tdb.DB.Exec(
		`INSERT INTO user_messages (user_id, message_id, flags) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, message_id) DO UPDATE SET flags = ?`,
		userID, messageID, flags, flags)
	if err != nil {
		tdb.T.Fatalf("Deliver: %v", err)
	}
}

// SetFlags updates the flags on an existing delivery row.
func (tdb *TestDB) SetFlags(userID, messageID, flags int64) {
	tdb.T.Helper()
	res, err := tdb.DB.Exec(
		`UPDATE user_messages SET flags = ? WHERE user_id = ? AND message_id = ?`,
		flags, userID, messageID)
	if err != nil {
		tdb.T.Fatalf("SetFlags: %v", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tdb.T.Fatalf("SetFlags: no delivery row for user %d message %d", userID, messageID)
	}
}

// AddReaction records an emoji reaction on a message.
func (tdb *TestDB) AddReaction(messageID, userID int64, emoji string) {
	tdb.T.Helper()
	_, err := tdb.DB.Exec(
		`INSERT INTO reactions (message_id, user_id, emoji_name) VALUES (?, ?, ?)`,
		messageID, userID, emoji)
	if err != nil {
		tdb.T.Fatalf("AddReaction: %v", err)
	}
}

// EnableFTS creates the FTS5 virtual table and populates it from existing
// messages. Skips the test if FTS5 is not available in this SQLite build.
func (tdb *TestDB) EnableFTS() {
	tdb.T.Helper()
	_, _ = tdb.DB.Exec(`DROP TABLE IF EXISTS messages_fts`)

	_, err := tdb.DB.Exec(`
		CREATE VIRTUAL TABLE messages_fts USING fts5(
			content, topic, content='messages', content_rowid='id',
			tokenize='porter unicode61');
	`)
	if err != nil {
		tdb.T.Skipf("FTS5 not available in this SQLite build: %v", err)
	}

	_, err = tdb.DB.Exec(`
		INSERT INTO messages_fts (rowid, content, topic)
		SELECT id, content, topic FROM messages
	`)
	if err != nil {
		tdb.T.Fatalf("populate FTS: %v", err)
	}
}

// Seeded is the handle returned by SeedStandardDataSet with the IDs tests
// need to reference.
type Seeded struct {
	RealmID   int64
	Alice     int64 // member, subscribed to general and design
	Bob       int64 // member, subscribed to general
	Carol     int64 // member, no channel subscriptions
	Gina      int64 // guest, subscribed to general
	Bot       int64 // cross-realm system bot
	General   int64 // public channel, history public to subscribers
	Design    int64 // public channel, protected history
	Lobby     int64 // web-public channel
	Vault     int64 // private channel
	GroupABC  int64 // group conversation recipient: alice, bob, carol
	FirstMsg  int64
	LastMsg   int64
	MessageID func(offset int) int64
}

// SeedStandardDataSet inserts a realm, five users, four channels, one group
// conversation, and a run of channel messages in general delivered to the
// subscribers.
func (tdb *TestDB) SeedStandardDataSet() *Seeded {
	tdb.T.Helper()

	s := &Seeded{}
	s.RealmID = tdb.AddRealm(1, "example")
	s.Alice = tdb.AddUser(UserOpts{Email: "alice@example.com"})
	s.Bob = tdb.AddUser(UserOpts{Email: "bob@example.com"})
	s.Carol = tdb.AddUser(UserOpts{Email: "carol@example.com"})
	s.Gina = tdb.AddUser(UserOpts{Email: "gina@example.com", IsGuest: true})
	s.Bot = tdb.AddUser(UserOpts{Email: "notifier@system.example.com", CrossRealm: true})

	s.General = tdb.AddChannel(ChannelOpts{Name: "general"})
	s.Design = tdb.AddChannel(ChannelOpts{Name: "design", ProtectedHist: true})
	s.Lobby = tdb.AddChannel(ChannelOpts{Name: "lobby", WebPublic: true})
	s.Vault = tdb.AddChannel(ChannelOpts{Name: "vault", Private: true, ProtectedHist: true})

	tdb.Subscribe(s.Alice, s.General)
	tdb.Subscribe(s.Alice, s.Design)
	tdb.Subscribe(s.Bob, s.General)
	tdb.Subscribe(s.Gina, s.General)

	s.GroupABC = tdb.AddGroupConversation(s.Alice, s.Bob, s.Carol)

	generalRecipient := tdb.ChannelRecipientID(s.General)
	for i := 0; i < 10; i++ {
		sender := s.Alice
		if i%2 == 1 {
			sender = s.Bob
		}
		id := tdb.AddMessage(MessageOpts{
			SenderID:    sender,
			RecipientID: generalRecipient,
			Topic:       "lunch",
			Content:     fmt.Sprintf("message %d", i),
			SentAt:      1700000000 + int64(i)*60,
			DeliverTo:   []int64{s.Alice, s.Bob, s.Gina},
		})
		if i == 0 {
			s.FirstMsg = id
		}
		s.LastMsg = id
	}
	first := s.FirstMsg
	s.MessageID = func(offset int) int64 { return first + int64(offset) }
	return s
}
