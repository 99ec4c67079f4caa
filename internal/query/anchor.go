package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/quillchat/quill/internal/narrow"
)

// NewestAnchor is the sentinel anchor guaranteed to be larger than any real
// message id, meaning "absolute newest".
const NewestAnchor int64 = 1_000_000_000_000_000

// ParseAnchor turns a client anchor token into a concrete anchor value.
// firstUnread true signals that the anchor must be resolved by the
// first-unread lookup. The legacy useFirstUnreadFlag argument forces that
// path regardless of the token; its absence together with an empty token is
// a request error.
func ParseAnchor(token string, useFirstUnreadFlag bool) (anchor int64, firstUnread bool, err error) {
	if useFirstUnreadFlag {
		return 0, true, nil
	}
	switch token {
	case "first_unread":
		return 0, true, nil
	case "oldest":
		return 0, false, nil
	case "newest":
		return NewestAnchor, false, nil
	case "":
		return 0, false, &narrow.MissingArgumentError{Name: "anchor"}
	}

	n, parseErr := strconv.ParseInt(token, 10, 64)
	if parseErr != nil {
		return 0, false, &narrow.InvalidAnchorError{Raw: token}
	}
	if n < 0 {
		return 0, false, nil
	}
	if n > NewestAnchor {
		n = NewestAnchor
	}
	return n, false, nil
}

// firstUnreadAnchor locates the oldest unread message id matching the narrow
// (with muting exclusions applied) for the requesting user. When nothing is
// unread the newest sentinel is returned: the client gets the most recent
// page. Unauthenticated viewers have nothing unread by definition.
func (e *Engine) firstUnreadAnchor(ctx context.Context, c *compiler, terms narrow.Narrow) (int64, error) {
	if c.me == nil {
		return NewestAnchor, nil
	}

	q := NewSelectQuery("user_messages um", "um.message_id")
	q.Join("JOIN messages m ON m.id = um.message_id")
	q.Where("um.user_id = ?", c.me.ID)
	q.Where(fmt.Sprintf("(um.flags & %d) = 0", narrow.FlagRead))

	sub := &compiler{
		dirs:      c.dirs,
		realmID:   c.realmID,
		me:        c.me,
		webPublic: c.webPublic,
		backend:   c.backend,
		mirror:    c.mirror,
		idColumn:  "um.message_id",

		scopedChannel: c.scopedChannel,
	}
	for _, t := range terms {
		if err := sub.applyTerm(ctx, q, t); err != nil {
			return 0, err
		}
	}

	muting, err := sub.mutingConditions(ctx)
	if err != nil {
		return 0, err
	}
	for _, cond := range muting {
		q.Where(cond.sql, cond.args...)
	}

	stmt, args := q.SQL("um.message_id ASC", 1)
	var id int64
	err = e.db.QueryRowContext(ctx, stmt, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return NewestAnchor, nil
	}
	if err != nil {
		return 0, fmt.Errorf("first unread lookup: %w", err)
	}
	return id, nil
}
