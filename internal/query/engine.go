// Package query compiles narrows into bounded, anchored message-window
// queries against the SQLite store. It owns the operator compiler, the
// history-visibility policy, anchor resolution, the range-limiting pagination
// algorithm, and result classification.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"html"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/quillchat/quill/internal/highlight"
	"github.com/quillchat/quill/internal/narrow"
)

// DefaultMaxFetch is the ceiling on num_before+num_after per request.
const DefaultMaxFetch = 5000

// UserContext identifies the requesting user. Nil means an unauthenticated
// web-public request.
type UserContext struct {
	ID          int64
	Email       string
	RecipientID int64 // the user's personal direct-message recipient
	IsGuest     bool
}

// MessageRow is one message in a fetched window.
type MessageRow struct {
	ID          int64
	SenderID    int64
	RecipientID int64
	Topic       string
	Content     string
	SentAt      time.Time
	IsDM        bool
	Flags       int64

	// MatchContent/MatchTopic carry highlighted text for search narrows.
	MatchContent string
	MatchTopic   string

	markedContent sql.NullString
	markedTopic   sql.NullString
}

// FetchResult is the classified window around the resolved anchor.
type FetchResult struct {
	Rows           []MessageRow
	FoundAnchor    bool
	FoundOldest    bool
	FoundNewest    bool
	HistoryLimited bool
	Anchor         int64
}

// Options configures engine behavior.
type Options struct {
	SearchBackend string // BackendFTS or BackendPlain
	MirrorMode    bool   // legacy mirrored-message compatibility
	MaxFetch      int    // 0 means DefaultMaxFetch
}

// Engine fetches bounded message windows. All collaborators are injected at
// construction; the engine keeps no per-request state and is safe for
// concurrent use.
type Engine struct {
	db     *sql.DB
	dirs   Directories
	logger *slog.Logger
	opts   Options
}

// NewEngine creates an engine over the given database and directories.
func NewEngine(db *sql.DB, dirs Directories, logger *slog.Logger, opts Options) *Engine {
	if opts.MaxFetch == 0 {
		opts.MaxFetch = DefaultMaxFetch
	}
	if opts.SearchBackend == "" {
		opts.SearchBackend = BackendFTS
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{db: db, dirs: dirs, logger: logger, opts: opts}
}

// SearchBackend reports which search backend the engine was built with.
func (e *Engine) SearchBackend() string {
	return e.opts.SearchBackend
}

// FetchParams describes one fetch request.
type FetchParams struct {
	Narrow      narrow.Narrow
	User        *UserContext // nil only for web-public queries
	RealmID     int64
	WebPublic   bool
	AnchorToken string
	// UseFirstUnread is the legacy flag form of anchor=first_unread.
	UseFirstUnread bool
	IncludeAnchor  bool
	NumBefore      int
	NumAfter       int
}

// FetchMessages resolves the anchor, compiles the narrow, executes the
// bounded range query, and classifies the result. Validation fully precedes
// query construction: no store access happens for an invalid request.
func (e *Engine) FetchMessages(ctx context.Context, p FetchParams) (*FetchResult, error) {
	if p.NumBefore < 0 || p.NumAfter < 0 {
		return nil, &narrow.BadOperandError{Operator: "num_before", Operand: "negative"}
	}
	if p.NumBefore+p.NumAfter > e.opts.MaxFetch {
		return nil, &narrow.TooManyMessagesError{Requested: p.NumBefore + p.NumAfter, Max: e.opts.MaxFetch}
	}
	if p.User == nil && !p.WebPublic {
		return nil, &narrow.MissingArgumentError{Name: "user"}
	}

	terms := p.Narrow.Simplify()
	if err := terms.Validate(); err != nil {
		return nil, err
	}
	if p.WebPublic && !hasChannelScope(terms) {
		return nil, &narrow.CombinationError{Reason: "web-public queries must be limited to web-public channels"}
	}

	anchor, firstUnread, err := ParseAnchor(p.AnchorToken, p.UseFirstUnread)
	if err != nil {
		return nil, err
	}

	c := &compiler{
		dirs:      e.dirs,
		realmID:   p.RealmID,
		me:        p.User,
		webPublic: p.WebPublic,
		backend:   e.opts.SearchBackend,
		mirror:    e.opts.MirrorMode,
	}

	// Resolve the single-channel scope up front so the muting and history
	// decisions do not depend on term order.
	if t, ok := terms.Find(narrow.OpChannel); ok {
		ch, err := c.resolveChannelOperand(ctx, t.Operand)
		if err != nil {
			return nil, err
		}
		if !t.Negated {
			c.scopedChannel = ch
		}
	}

	includeHistory, err := c.okToIncludeHistory(ctx, terms)
	if err != nil {
		return nil, err
	}
	rs := selectRowSource(includeHistory, len(terms) == 0)
	c.idColumn = rs.idColumn()

	if firstUnread {
		anchor, err = e.firstUnreadAnchor(ctx, c, terms)
		if err != nil {
			return nil, err
		}
	}
	anchoredLeft := anchor == 0
	anchoredRight := anchor >= NewestAnchor
	if !p.IncludeAnchor && !anchoredLeft && !anchoredRight && p.NumBefore > 0 && p.NumAfter > 0 {
		return nil, &narrow.CombinationError{Reason: "the anchor can only be excluded at an end of the range"}
	}

	firstVisible, err := e.dirs.Realms.FirstVisibleMessageID(ctx, p.RealmID)
	if err != nil {
		return nil, fmt.Errorf("first visible message id: %w", err)
	}

	var userID int64
	if p.User != nil {
		userID = p.User.ID
	}
	q := rs.baseQuery(userID)
	projectColumns(q, rs)

	for _, t := range terms {
		if err := c.applyTerm(ctx, q, t); err != nil {
			return nil, err
		}
	}
	baseColumns := q.NumColumns()
	if rs.needsMessage {
		c.addMatchColumns(q)
	}
	// The plain backend highlights post-fetch and projects no match columns,
	// so the scan layout follows what was actually added to the query.
	withMatch := q.NumColumns() > baseColumns

	stmt, args := limitToRange(q, c.idColumn, anchor,
		p.NumBefore, p.NumAfter, p.IncludeAnchor, anchoredLeft, anchoredRight, firstVisible)
	e.logger.Debug("range query compiled",
		"conditions", len(q.conds), "columns", q.NumColumns(),
		"anchor", anchor, "num_before", p.NumBefore, "num_after", p.NumAfter)

	rows, err := e.queryRows(ctx, stmt, args, rs, withMatch)
	if err != nil {
		return nil, err
	}

	if !rs.needsMessage {
		if err := e.hydrateMessages(ctx, rows); err != nil {
			return nil, err
		}
	}
	if includeHistory && p.User != nil {
		if err := e.attachUserFlags(ctx, p.User.ID, rows); err != nil {
			return nil, err
		}
	}

	result := classify(rows, p.NumBefore, p.NumAfter, anchor, anchoredLeft, anchoredRight, firstVisible)
	if len(c.searchTerms) > 0 {
		e.applyHighlights(&result, c)
	}
	return &result, nil
}

// hasChannelScope reports whether the narrow carries a channel-scoping term.
func hasChannelScope(terms narrow.Narrow) bool {
	for _, t := range terms {
		if !t.Negated && (t.Operator == narrow.OpChannel || t.Operator == narrow.OpChannels) {
			return true
		}
	}
	return false
}

// projectColumns adds the scan columns for the row source. The first column
// is always the logical message id aliased message_id: the pagination union
// orders by that name.
func projectColumns(q *SelectQuery, rs rowSource) {
	if !rs.needsMessage {
		q.Column("um.message_id AS message_id")
		q.Column("um.flags")
		return
	}
	q.Column(rs.idColumn() + " AS message_id")
	q.Column("m.sender_id")
	q.Column("m.recipient_id")
	q.Column("m.topic")
	q.Column("m.content")
	q.Column("m.sent_at")
	q.Column("m.is_dm")
	if rs.needsUserMessage {
		q.Column("um.flags")
	} else {
		q.Column("0 AS flags")
	}
}

// queryRows executes the range query and scans results according to the row
// source's column layout.
func (e *Engine) queryRows(ctx context.Context, stmt string, args []any, rs rowSource, withMatch bool) ([]MessageRow, error) {
	dbRows, err := e.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("range query: %w", err)
	}
	defer dbRows.Close()

	var out []MessageRow
	for dbRows.Next() {
		var r MessageRow
		if !rs.needsMessage {
			if err := dbRows.Scan(&r.ID, &r.Flags); err != nil {
				return nil, fmt.Errorf("scan row: %w", err)
			}
		} else {
			var sentAt, isDM int64
			dest := []any{&r.ID, &r.SenderID, &r.RecipientID, &r.Topic, &r.Content, &sentAt, &isDM, &r.Flags}
			if withMatch {
				dest = append(dest, &r.markedContent, &r.markedTopic)
			}
			if err := dbRows.Scan(dest...); err != nil {
				return nil, fmt.Errorf("scan row: %w", err)
			}
			r.SentAt = time.Unix(sentAt, 0).UTC()
			r.IsDM = isDM != 0
		}
		out = append(out, r)
	}
	if err := dbRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// hydrateMessages fills message fields for rows fetched from the delivery
// table alone (empty narrow, no history).
func (e *Engine) hydrateMessages(ctx context.Context, rows []MessageRow) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]int64, len(rows))
	index := make(map[int64]int, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
		index[r.ID] = i
	}
	in, args := inCond("id", ids)
	stmt := fmt.Sprintf(
		"SELECT id, sender_id, recipient_id, topic, content, sent_at, is_dm FROM messages WHERE %s", in)

	dbRows, err := e.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("hydrate messages: %w", err)
	}
	defer dbRows.Close()
	for dbRows.Next() {
		var (
			id, senderID, recipientID, sentAt, isDM int64
			topic, content                          string
		)
		if err := dbRows.Scan(&id, &senderID, &recipientID, &topic, &content, &sentAt, &isDM); err != nil {
			return fmt.Errorf("scan message: %w", err)
		}
		i, ok := index[id]
		if !ok {
			continue
		}
		rows[i].SenderID = senderID
		rows[i].RecipientID = recipientID
		rows[i].Topic = topic
		rows[i].Content = content
		rows[i].SentAt = time.Unix(sentAt, 0).UTC()
		rows[i].IsDM = isDM != 0
	}
	return dbRows.Err()
}

// attachUserFlags looks up delivery flags for rows fetched from the global
// message table. Messages never delivered to the user read as already-read
// history.
func (e *Engine) attachUserFlags(ctx context.Context, userID int64, rows []MessageRow) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]int64, len(rows))
	index := make(map[int64]int, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
		index[r.ID] = i
		rows[i].Flags = narrow.FlagRead
	}
	in, args := inCond("message_id", ids)
	stmt := fmt.Sprintf("SELECT message_id, flags FROM user_messages WHERE user_id = ? AND %s", in)
	args = append([]any{userID}, args...)

	dbRows, err := e.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("attach flags: %w", err)
	}
	defer dbRows.Close()
	for dbRows.Next() {
		var id, flags int64
		if err := dbRows.Scan(&id, &flags); err != nil {
			return fmt.Errorf("scan flags: %w", err)
		}
		if i, ok := index[id]; ok {
			rows[i].Flags = flags
		}
	}
	return dbRows.Err()
}

// applyHighlights converts backend match information into highlighted
// content/topic fields on the result rows.
func (e *Engine) applyHighlights(result *FetchResult, c *compiler) {
	for i := range result.Rows {
		r := &result.Rows[i]
		escTopic := html.EscapeString(r.Topic)

		if c.backend == BackendFTS {
			if r.markedContent.Valid {
				spans := highlight.SpansFromMarked(r.markedContent.String, highlightStartMark, highlightEndMark)
				r.MatchContent = highlight.Apply(r.Content, spans)
			} else {
				r.MatchContent = r.Content
			}
			// Topic offsets shift under HTML escaping, so matched
			// substrings are relocated within the escaped text.
			if r.markedTopic.Valid {
				subs := highlight.Matches(r.markedTopic.String, highlightStartMark, highlightEndMark)
				escSubs := make([]string, len(subs))
				for j, s := range subs {
					escSubs[j] = html.EscapeString(s)
				}
				r.MatchTopic = highlight.Apply(escTopic, highlight.SpansByScan(escTopic, escSubs))
			} else {
				r.MatchTopic = escTopic
			}
			continue
		}

		keywords := c.searchTerms
		r.MatchContent = highlight.Apply(r.Content, highlight.SpansByScan(r.Content, keywords))
		r.MatchTopic = highlight.Apply(escTopic, highlight.SpansByScan(escTopic, keywords))
	}
}

// FlagNames describes a row's flag bits for logging and the fetch CLI.
func FlagNames(flags int64) string {
	var names []string
	for _, f := range []struct {
		bit  int64
		name string
	}{
		{narrow.FlagRead, "read"},
		{narrow.FlagStarred, "starred"},
		{narrow.FlagMentioned, "mentioned"},
		{narrow.FlagAlerted, "alerted"},
		{narrow.FlagFollowed, "followed"},
	} {
		if flags&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}
