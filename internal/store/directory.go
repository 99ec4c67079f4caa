package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/quillchat/quill/internal/query"
)

// Directory implements the query engine's lookup interfaces over the SQLite
// schema. One value serves all five roles.
type Directory struct {
	db *sql.DB
}

// NewDirectory creates a Directory over the store's connection.
func NewDirectory(s *Store) *Directory {
	return &Directory{db: s.DB()}
}

// Directories bundles the directory into the engine's collaborator set.
func (d *Directory) Directories() query.Directories {
	return query.Directories{
		Channels:      d,
		Users:         d,
		Conversations: d,
		Mutes:         d,
		Realms:        d,
	}
}

const channelColumns = "id, name, recipient_id, is_public, is_web_public, history_public_to_subscribers"

func scanChannel(row *sql.Row) (*query.Channel, error) {
	var ch query.Channel
	var isPublic, isWebPublic, historyPublic int64
	err := row.Scan(&ch.ID, &ch.Name, &ch.RecipientID, &isPublic, &isWebPublic, &historyPublic)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, query.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	ch.IsPublic = isPublic != 0
	ch.IsWebPublic = isWebPublic != 0
	ch.HistoryPublicToSubscribers = historyPublic != 0
	return &ch, nil
}

// ChannelByName resolves a channel by name, case-insensitively.
func (d *Directory) ChannelByName(ctx context.Context, realmID int64, name string) (*query.Channel, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT "+channelColumns+" FROM channels WHERE realm_id = ? AND name = ? COLLATE NOCASE",
		realmID, name)
	return scanChannel(row)
}

// ChannelByID resolves a channel by id within a realm.
func (d *Directory) ChannelByID(ctx context.Context, realmID, channelID int64) (*query.Channel, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT "+channelColumns+" FROM channels WHERE realm_id = ? AND id = ?",
		realmID, channelID)
	return scanChannel(row)
}

// PublicChannelRecipientIDs returns recipient ids of all public channels in
// the realm.
func (d *Directory) PublicChannelRecipientIDs(ctx context.Context, realmID int64) ([]int64, error) {
	return d.queryIDs(ctx,
		"SELECT recipient_id FROM channels WHERE realm_id = ? AND is_public = 1 ORDER BY recipient_id", realmID)
}

// WebPublicChannelRecipientIDs returns recipient ids of all web-public
// channels in the realm.
func (d *Directory) WebPublicChannelRecipientIDs(ctx context.Context, realmID int64) ([]int64, error) {
	return d.queryIDs(ctx,
		"SELECT recipient_id FROM channels WHERE realm_id = ? AND is_web_public = 1 ORDER BY recipient_id", realmID)
}

// IsSubscribed reports whether the user has an active subscription to the
// channel.
func (d *Directory) IsSubscribed(ctx context.Context, userID, channelID int64) (bool, error) {
	var n int64
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions s
		 JOIN channels c ON c.recipient_id = s.recipient_id
		 WHERE s.user_id = ? AND c.id = ? AND s.active = 1`,
		userID, channelID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("subscription lookup: %w", err)
	}
	return n > 0, nil
}

func scanUser(row *sql.Row) (*query.User, error) {
	var u query.User
	var isGuest int64
	err := row.Scan(&u.ID, &u.Email, &u.RecipientID, &isGuest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, query.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.IsGuest = isGuest != 0
	return &u, nil
}

// UserByEmail resolves a user by address within the realm; a miss falls back
// to cross-realm system bots, which carry no realm.
func (d *Directory) UserByEmail(ctx context.Context, realmID int64, email string) (*query.User, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, email, recipient_id, is_guest FROM users
		 WHERE email = ? COLLATE NOCASE AND (realm_id = ? OR realm_id IS NULL)
		 ORDER BY realm_id IS NULL LIMIT 1`,
		email, realmID)
	return scanUser(row)
}

// UserByID resolves a user by id, with the same cross-realm bot fallback as
// UserByEmail.
func (d *Directory) UserByID(ctx context.Context, realmID, userID int64) (*query.User, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, email, recipient_id, is_guest FROM users
		 WHERE id = ? AND (realm_id = ? OR realm_id IS NULL)`,
		userID, realmID)
	return scanUser(row)
}

// GroupRecipient returns the group conversation whose membership is exactly
// userIDs. Membership comparison ignores order and duplicates.
func (d *Directory) GroupRecipient(ctx context.Context, userIDs []int64) (*query.Recipient, error) {
	ids := dedupe(userIDs)
	if len(ids) == 0 {
		return nil, query.ErrNotFound
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, int64(len(ids)))

	// Exact membership: every listed user belongs, and nobody else does.
	row := d.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT r.id FROM recipients r
		 WHERE r.is_group = 1
		   AND (SELECT COUNT(*) FROM conversation_members cm
		        WHERE cm.recipient_id = r.id AND cm.user_id IN (%s)) =
		       (SELECT COUNT(*) FROM conversation_members cm
		        WHERE cm.recipient_id = r.id)
		   AND (SELECT COUNT(*) FROM conversation_members cm
		        WHERE cm.recipient_id = r.id) = ?
		 LIMIT 1`, placeholders), args...)

	var rid int64
	err := row.Scan(&rid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, query.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("group recipient lookup: %w", err)
	}
	return &query.Recipient{ID: rid, IsGroup: true}, nil
}

// GroupRecipientIDsIncluding returns the recipient ids of every group
// conversation the user belongs to.
func (d *Directory) GroupRecipientIDsIncluding(ctx context.Context, userID int64) ([]int64, error) {
	return d.queryIDs(ctx,
		`SELECT cm.recipient_id FROM conversation_members cm
		 JOIN recipients r ON r.id = cm.recipient_id
		 WHERE cm.user_id = ? AND r.is_group = 1
		 ORDER BY cm.recipient_id`, userID)
}

// MutedChannelRecipientIDs returns recipient ids of channels the user has
// muted.
func (d *Directory) MutedChannelRecipientIDs(ctx context.Context, userID int64) ([]int64, error) {
	return d.queryIDs(ctx,
		"SELECT recipient_id FROM subscriptions WHERE user_id = ? AND is_muted = 1 ORDER BY recipient_id", userID)
}

// MutedTopics returns the user's muted (channel, topic) pairs, optionally
// scoped to one channel.
func (d *Directory) MutedTopics(ctx context.Context, userID, channelID int64) ([]query.MutedTopic, error) {
	stmt := "SELECT recipient_id, topic FROM muted_topics WHERE user_id = ?"
	args := []any{userID}
	if channelID != 0 {
		stmt += " AND recipient_id = (SELECT recipient_id FROM channels WHERE id = ?)"
		args = append(args, channelID)
	}
	stmt += " ORDER BY recipient_id, topic"

	rows, err := d.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("muted topics: %w", err)
	}
	defer rows.Close()

	var out []query.MutedTopic
	for rows.Next() {
		var mt query.MutedTopic
		if err := rows.Scan(&mt.RecipientID, &mt.Topic); err != nil {
			return nil, fmt.Errorf("scan muted topic: %w", err)
		}
		out = append(out, mt)
	}
	return out, rows.Err()
}

// FirstVisibleMessageID returns the realm's oldest-visible-message watermark.
func (d *Directory) FirstVisibleMessageID(ctx context.Context, realmID int64) (int64, error) {
	var id int64
	err := d.db.QueryRowContext(ctx,
		"SELECT first_visible_message_id FROM realms WHERE id = ?", realmID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("first visible message id: %w", err)
	}
	return id, nil
}

func (d *Directory) queryIDs(ctx context.Context, stmt string, args ...any) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("id query: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	var out []int64
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
