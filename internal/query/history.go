package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/quillchat/quill/internal/narrow"
)

// condArg is one rendered predicate with its bound arguments.
type condArg struct {
	sql  string
	args []any
}

// okToIncludeHistory decides whether the query may read the global message
// table directly instead of being pre-scoped by per-user delivery rows. It
// must return true only when the compiled query is certain to be scoped to a
// single legitimately-accessible channel's full history (or the web-public
// subset). Any "is" term forces false: those properties exist only on
// delivery rows and cannot be known for messages never delivered to the user.
func (c *compiler) okToIncludeHistory(ctx context.Context, terms narrow.Narrow) (bool, error) {
	if c.webPublic {
		// The compiled query itself carries the web-public channel
		// restriction; direct table access is safe.
		return true, nil
	}
	if c.me == nil {
		return false, nil
	}

	for _, t := range terms {
		if t.Operator == narrow.OpIs {
			return false, nil
		}
	}

	include := false
	for _, t := range terms {
		switch {
		case t.Operator == narrow.OpChannel && !t.Negated:
			ch, err := c.resolveChannelOperand(ctx, t.Operand)
			if err != nil {
				// Unresolvable channels error out of term compilation; the
				// policy just declines history here.
				var reqErr narrow.RequestError
				if errors.As(err, &reqErr) {
					return false, nil
				}
				return false, err
			}
			ok, err := c.canAccessChannelHistory(ctx, ch)
			if err != nil {
				return false, err
			}
			include = ok
		case t.Operator == narrow.OpChannels && !t.Negated && t.Operand.Str == "public":
			include = !c.me.IsGuest
		case t.Operator == narrow.OpChannels && !t.Negated && t.Operand.Str == "web-public":
			include = true
		}
	}
	return include, nil
}

// canAccessChannelHistory reports whether the user may read the channel's
// full history, including messages from before any subscription.
func (c *compiler) canAccessChannelHistory(ctx context.Context, ch *Channel) (bool, error) {
	if ch.IsWebPublic {
		return true, nil
	}
	if ch.HistoryPublicToSubscribers {
		sub, err := c.dirs.Channels.IsSubscribed(ctx, c.me.ID, ch.ID)
		if err != nil {
			return false, fmt.Errorf("check subscription: %w", err)
		}
		return sub, nil
	}
	return ch.IsPublic && !c.me.IsGuest, nil
}

// mutingConditions builds the muting-exclusion predicates: muted channels and
// muted (channel, topic) pairs are removed, except that an explicit
// single-channel scope suppresses channel-level muting (a user narrowing to a
// muted channel wants to see it) and restricts topic muting to that channel.
// Applied only for in:home narrows and first-unread anchor resolution.
func (c *compiler) mutingConditions(ctx context.Context) ([]condArg, error) {
	var conds []condArg

	var scopedChannelID int64
	if c.scopedChannel != nil {
		scopedChannelID = c.scopedChannel.ID
	}

	if c.scopedChannel == nil {
		mutedRecipients, err := c.dirs.Mutes.MutedChannelRecipientIDs(ctx, c.me.ID)
		if err != nil {
			return nil, fmt.Errorf("muted channels: %w", err)
		}
		if len(mutedRecipients) > 0 {
			in, args := inCond("m.recipient_id", mutedRecipients)
			conds = append(conds, condArg{sql: "NOT (" + in + " AND m.is_dm = 0)", args: args})
		}
	}

	mutedTopics, err := c.dirs.Mutes.MutedTopics(ctx, c.me.ID, scopedChannelID)
	if err != nil {
		return nil, fmt.Errorf("muted topics: %w", err)
	}
	for _, mt := range mutedTopics {
		conds = append(conds, condArg{
			sql:  "NOT (m.recipient_id = ? AND LOWER(m.topic) = LOWER(?))",
			args: []any{mt.RecipientID, mt.Topic},
		})
	}
	return conds, nil
}
