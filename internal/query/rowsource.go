package query

// rowSource is the query-plan intermediate state: which tables the main query
// reads from and which column is the logical message identifier used for
// ordering and anchoring.
type rowSource struct {
	needsMessage     bool
	needsUserMessage bool
}

// selectRowSource is the deterministic decision table combining the
// history-inclusion decision with whether a narrow is present.
//
//	include_history | narrow empty | needs_message | needs_user_message
//	true            | (either)     | true          | false
//	false           | true         | false         | true
//	false           | false        | true          | true
func selectRowSource(includeHistory, narrowEmpty bool) rowSource {
	if includeHistory {
		return rowSource{needsMessage: true}
	}
	if narrowEmpty {
		return rowSource{needsUserMessage: true}
	}
	return rowSource{needsMessage: true, needsUserMessage: true}
}

// idColumn returns the column exposed as the logical message identifier.
func (rs rowSource) idColumn() string {
	if rs.needsUserMessage {
		return "um.message_id"
	}
	return "m.id"
}

// baseQuery builds the FROM/JOIN skeleton for the row source, scoped to the
// given user when delivery rows are involved. When both tables are needed
// they join on the message reference alone; the per-user predicate is far
// more selective than any realm restriction, so realm is deliberately not an
// extra join condition.
func (rs rowSource) baseQuery(userID int64) *SelectQuery {
	switch {
	case rs.needsUserMessage && rs.needsMessage:
		q := NewSelectQuery("user_messages um")
		q.Join("JOIN messages m ON m.id = um.message_id")
		q.Where("um.user_id = ?", userID)
		return q
	case rs.needsUserMessage:
		q := NewSelectQuery("user_messages um")
		q.Where("um.user_id = ?", userID)
		return q
	default:
		return NewSelectQuery("messages m")
	}
}
