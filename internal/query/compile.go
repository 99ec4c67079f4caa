package query

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/quillchat/quill/internal/narrow"
)

// Search backends. The fts backend uses the ranked FTS5 index and recovers
// highlight spans from marked-up column projections; the plain backend uses
// substring predicates and locates spans by direct scanning.
const (
	BackendFTS   = "fts"
	BackendPlain = "plain"
)

// mirrorSuffix is the legacy mirrored-message channel/topic suffix. Folding
// is capped at this many repetitions to bound pattern cost.
const (
	mirrorSuffix       = ".d"
	maxMirrorSuffixes  = 4
	emptyTopicSynonym  = "(no topic)"
	highlightStartMark = "\x01"
	highlightEndMark   = "\x02"
)

// compiler folds narrow terms into predicates on a SelectQuery. One compiler
// serves one request; it accumulates the request-scoped facts later stages
// need (single-channel scope, collected search operands).
type compiler struct {
	dirs      Directories
	realmID   int64
	me        *UserContext // nil for web-public queries
	webPublic bool
	backend   string
	mirror    bool // legacy mirrored-message compatibility mode
	idColumn  string

	scopedChannel *Channel // set by a non-negated channel term
	searchTerms   []string
}

// applyTerm compiles one term onto q. Every branch only appends predicates,
// read-only columns, or joins; none may relax what is already there.
func (c *compiler) applyTerm(ctx context.Context, q *SelectQuery, t narrow.Term) error {
	switch t.Operator {
	case narrow.OpChannel:
		return c.byChannel(ctx, q, t)
	case narrow.OpChannels:
		return c.byChannels(ctx, q, t)
	case narrow.OpTopic:
		return c.byTopic(q, t)
	case narrow.OpSender:
		return c.bySender(ctx, q, t)
	case narrow.OpID:
		q.whereMaybeNot(c.idColumn+" = ?", t.Negated, t.Operand.Int)
		return nil
	case narrow.OpNear:
		// Pagination anchor hint only; consumed upstream, no predicate.
		return nil
	case narrow.OpDM:
		return c.byDM(ctx, q, t)
	case narrow.OpDMIncluding:
		return c.byDMIncluding(ctx, q, t)
	case narrow.OpGroupDM:
		return c.byGroupDM(ctx, q, t)
	case narrow.OpIn:
		return c.byIn(ctx, q, t)
	case narrow.OpIs:
		return c.byIs(q, t)
	case narrow.OpHas:
		return c.byHas(q, t)
	case narrow.OpSearch:
		return c.bySearch(q, t)
	default:
		return &narrow.UnknownOperatorError{Operator: t.Operator}
	}
}

// resolveChannelOperand resolves a channel term operand (name or id).
// Resolution here deliberately skips per-user access checks: the surrounding
// compiled query guarantees overall result-set safety.
func (c *compiler) resolveChannelOperand(ctx context.Context, operand narrow.Operand) (*Channel, error) {
	var (
		ch  *Channel
		err error
	)
	if operand.Kind == narrow.OperandInt {
		ch, err = c.dirs.Channels.ChannelByID(ctx, c.realmID, operand.Int)
	} else {
		name := operand.Str
		if c.mirror {
			name = trimMirrorSuffixes(name)
		}
		ch, err = c.dirs.Channels.ChannelByName(ctx, c.realmID, name)
	}
	if errors.Is(err, ErrNotFound) {
		return nil, &narrow.UnknownChannelError{}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve channel: %w", err)
	}
	if c.webPublic && !ch.IsWebPublic {
		return nil, &narrow.UnknownChannelError{}
	}
	return ch, nil
}

func (c *compiler) byChannel(ctx context.Context, q *SelectQuery, t narrow.Term) error {
	ch, err := c.resolveChannelOperand(ctx, t.Operand)
	if err != nil {
		return err
	}

	if c.mirror {
		// Mirrored realms fold dotted suffix variants of a channel name into
		// one logical channel: Verona, Verona.d, Verona.d.d, ... (case
		// folded, capped at 4 suffix levels).
		ids := []int64{ch.RecipientID}
		name := ch.Name
		for i := 0; i < maxMirrorSuffixes; i++ {
			name += mirrorSuffix
			variant, err := c.dirs.Channels.ChannelByName(ctx, c.realmID, name)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("resolve mirror channel: %w", err)
			}
			ids = append(ids, variant.RecipientID)
		}
		q.WhereIn("m.recipient_id", ids, t.Negated)
	} else {
		q.whereMaybeNot("m.recipient_id = ?", t.Negated, ch.RecipientID)
	}

	if !t.Negated {
		c.scopedChannel = ch
	}
	return nil
}

func (c *compiler) byChannels(ctx context.Context, q *SelectQuery, t narrow.Term) error {
	var (
		ids []int64
		err error
	)
	switch t.Operand.Str {
	case "web-public":
		ids, err = c.dirs.Channels.WebPublicChannelRecipientIDs(ctx, c.realmID)
	default: // "public", enforced during canonicalization
		ids, err = c.dirs.Channels.PublicChannelRecipientIDs(ctx, c.realmID)
	}
	if err != nil {
		return fmt.Errorf("channel recipient ids: %w", err)
	}
	q.WhereIn("m.recipient_id", ids, t.Negated)
	return nil
}

func (c *compiler) byTopic(q *SelectQuery, t narrow.Term) error {
	topic := t.Operand.Str
	if !c.mirror {
		q.whereMaybeNot("LOWER(m.topic) = LOWER(?)", t.Negated, topic)
		return nil
	}

	// Mirror mode: fold dotted suffixes, and fold the historical names for
	// the empty topic together.
	base := trimMirrorSuffixes(topic)
	names := []string{base}
	if base == "" || strings.EqualFold(base, emptyTopicSynonym) {
		names = []string{"", emptyTopicSynonym}
	}

	var conds []string
	var args []any
	for _, name := range names {
		variant := name
		for i := 0; i <= maxMirrorSuffixes; i++ {
			conds = append(conds, "LOWER(m.topic) = LOWER(?)")
			args = append(args, variant)
			variant += mirrorSuffix
		}
	}
	q.whereMaybeNot("("+strings.Join(conds, " OR ")+")", t.Negated, args...)
	return nil
}

// resolveUserOperand resolves a user operand (email or id), including
// cross-realm system bots (the directory falls back to an unscoped lookup).
func (c *compiler) resolveUserOperand(ctx context.Context, operand narrow.Operand) (*User, error) {
	var (
		u   *User
		err error
	)
	if operand.Kind == narrow.OperandInt {
		u, err = c.dirs.Users.UserByID(ctx, c.realmID, operand.Int)
	} else {
		u, err = c.dirs.Users.UserByEmail(ctx, c.realmID, strings.TrimSpace(operand.Str))
	}
	if errors.Is(err, ErrNotFound) {
		return nil, &narrow.UnknownUserError{}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	return u, nil
}

func (c *compiler) bySender(ctx context.Context, q *SelectQuery, t narrow.Term) error {
	u, err := c.resolveUserOperand(ctx, t.Operand)
	if err != nil {
		return err
	}
	q.whereMaybeNot("m.sender_id = ?", t.Negated, u.ID)
	return nil
}

// resolveDMUsers resolves a dm operand into the conversation's member users,
// excluding the requester.
func (c *compiler) resolveDMUsers(ctx context.Context, operand narrow.Operand) ([]*User, error) {
	var others []*User
	seen := map[int64]bool{}
	add := func(u *User) {
		if u.ID != c.me.ID && !seen[u.ID] {
			seen[u.ID] = true
			others = append(others, u)
		}
	}

	if operand.Kind == narrow.OperandIntList {
		for _, id := range operand.Ints {
			u, err := c.resolveUserOperand(ctx, narrow.IntOperand(id))
			if err != nil {
				return nil, err
			}
			add(u)
		}
		return others, nil
	}
	for _, email := range strings.Split(operand.Str, ",") {
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}
		u, err := c.resolveUserOperand(ctx, narrow.StringOperand(email))
		if err != nil {
			return nil, err
		}
		add(u)
	}
	return others, nil
}

func (c *compiler) byDM(ctx context.Context, q *SelectQuery, t narrow.Term) error {
	if c.me == nil {
		return &narrow.CombinationError{Reason: "direct-message narrows require an authenticated user"}
	}
	others, err := c.resolveDMUsers(ctx, t.Operand)
	if err != nil {
		return err
	}

	switch len(others) {
	case 0:
		// Conversation with self.
		q.whereMaybeNot("(m.is_dm = 1 AND m.sender_id = ? AND m.recipient_id = ?)",
			t.Negated, c.me.ID, c.me.RecipientID)
	case 1:
		// 1:1 conversation: messages sent by either participant to the other.
		other := others[0]
		q.whereMaybeNot(
			"(m.is_dm = 1 AND m.realm_id = ? AND "+
				"((m.sender_id = ? AND m.recipient_id = ?) OR (m.sender_id = ? AND m.recipient_id = ?)))",
			t.Negated,
			c.realmID, other.ID, c.me.RecipientID, c.me.ID, other.RecipientID)
	default:
		ids := make([]int64, 0, len(others)+1)
		ids = append(ids, c.me.ID)
		for _, u := range others {
			ids = append(ids, u.ID)
		}
		rcpt, err := c.dirs.Conversations.GroupRecipient(ctx, ids)
		if errors.Is(err, ErrNotFound) {
			// A conversation that never existed matches nothing; not an error.
			q.whereMaybeNot("1 = 0", t.Negated)
			return nil
		}
		if err != nil {
			return fmt.Errorf("resolve group conversation: %w", err)
		}
		q.whereMaybeNot("m.recipient_id = ?", t.Negated, rcpt.ID)
	}
	return nil
}

func (c *compiler) byDMIncluding(ctx context.Context, q *SelectQuery, t narrow.Term) error {
	if c.me == nil {
		return &narrow.CombinationError{Reason: "direct-message narrows require an authenticated user"}
	}
	u, err := c.resolveUserOperand(ctx, t.Operand)
	if err != nil {
		return err
	}
	if u.ID == c.me.ID {
		// Every direct message includes its owner.
		q.whereMaybeNot("m.is_dm = 1", t.Negated)
		return nil
	}

	groupIDs, err := c.dirs.Conversations.GroupRecipientIDsIncluding(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("group conversations including user: %w", err)
	}
	inGroups, groupArgs := inCond("m.recipient_id", groupIDs)
	cond := fmt.Sprintf("(m.is_dm = 1 AND (m.sender_id = ? OR m.recipient_id = ? OR %s))", inGroups)
	args := append([]any{u.ID, u.RecipientID}, groupArgs...)
	q.whereMaybeNot(cond, t.Negated, args...)
	return nil
}

func (c *compiler) byGroupDM(ctx context.Context, q *SelectQuery, t narrow.Term) error {
	if c.me == nil {
		return &narrow.CombinationError{Reason: "direct-message narrows require an authenticated user"}
	}
	u, err := c.resolveUserOperand(ctx, t.Operand)
	if err != nil {
		return err
	}
	groupIDs, err := c.dirs.Conversations.GroupRecipientIDsIncluding(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("group conversations including user: %w", err)
	}
	if u.ID != c.me.ID {
		// Only conversations shared with the requester qualify.
		mine, err := c.dirs.Conversations.GroupRecipientIDsIncluding(ctx, c.me.ID)
		if err != nil {
			return fmt.Errorf("group conversations including user: %w", err)
		}
		groupIDs = intersectIDs(groupIDs, mine)
	}
	in, args := inCond("m.recipient_id", groupIDs)
	q.whereMaybeNot("(m.is_dm = 1 AND "+in+")", t.Negated, args...)
	return nil
}

// intersectIDs keeps the elements of a that also appear in b, preserving a's
// order.
func intersectIDs(a, b []int64) []int64 {
	inB := make(map[int64]bool, len(b))
	for _, id := range b {
		inB[id] = true
	}
	var out []int64
	for _, id := range a {
		if inB[id] {
			out = append(out, id)
		}
	}
	return out
}

func (c *compiler) byIn(ctx context.Context, q *SelectQuery, t narrow.Term) error {
	if t.Operand.Str == "all" {
		return nil
	}
	// in:home applies the muting-exclusion predicate set.
	if c.me == nil {
		return nil
	}
	conds, err := c.mutingConditions(ctx)
	if err != nil {
		return err
	}
	if len(conds) == 0 {
		return nil
	}
	var parts []string
	var args []any
	for _, cond := range conds {
		parts = append(parts, cond.sql)
		args = append(args, cond.args...)
	}
	q.whereMaybeNot("("+strings.Join(parts, " AND ")+")", t.Negated, args...)
	return nil
}

func (c *compiler) byIs(q *SelectQuery, t narrow.Term) error {
	var cond string
	var args []any
	switch t.Operand.Str {
	case "starred", "unread", "mentioned", "alerted", "followed":
		if c.me == nil {
			return &narrow.CombinationError{Reason: "flag narrows require an authenticated user"}
		}
	}
	switch t.Operand.Str {
	case "dm":
		cond = "m.is_dm = 1"
	case "starred":
		cond = fmt.Sprintf("(um.flags & %d) != 0", narrow.FlagStarred)
	case "unread":
		cond = fmt.Sprintf("(um.flags & %d) = 0", narrow.FlagRead)
	case "mentioned":
		cond = fmt.Sprintf("(um.flags & %d) != 0", narrow.FlagMentioned)
	case "alerted":
		cond = fmt.Sprintf("(um.flags & %d) != 0", narrow.FlagAlerted)
	case "followed":
		cond = fmt.Sprintf("(um.flags & %d) != 0", narrow.FlagFollowed)
	case "resolved":
		cond = "m.topic LIKE ?"
		args = append(args, escapeLike(narrow.ResolvedTopicPrefix)+"%")
	default:
		return &narrow.BadOperandError{Operator: t.Operator, Operand: t.Operand.Str}
	}
	q.whereMaybeNot(cond, t.Negated, args...)
	return nil
}

func (c *compiler) byHas(q *SelectQuery, t narrow.Term) error {
	var cond string
	switch t.Operand.Str {
	case "attachment":
		cond = "m.has_attachment = 1"
	case "image":
		cond = "m.has_image = 1"
	case "link":
		cond = "m.has_link = 1"
	case "reaction":
		cond = "EXISTS (SELECT 1 FROM reactions r WHERE r.message_id = m.id)"
	default:
		return &narrow.BadOperandError{Operator: t.Operator, Operand: t.Operand.Str}
	}
	q.whereMaybeNot(cond, t.Negated)
	return nil
}

func (c *compiler) bySearch(q *SelectQuery, t narrow.Term) error {
	operand := t.Operand.Str

	switch c.backend {
	case BackendFTS:
		phrases, words := splitSearchOperand(operand)
		match := ftsMatchExpr(phrases, words)
		q.whereMaybeNot("m.id IN (SELECT rowid FROM messages_fts WHERE messages_fts MATCH ?)",
			t.Negated, match)
		// The index cannot express exact phrase adjacency across its
		// tokenizer in all configurations, so quoted substrings get a
		// literal case-insensitive substring predicate as well.
		for _, phrase := range phrases {
			pattern := "%" + escapeLike(phrase) + "%"
			q.whereMaybeNot(`(m.content LIKE ? ESCAPE '\' OR m.topic LIKE ? ESCAPE '\')`,
				t.Negated, pattern, pattern)
		}
		c.searchTerms = append(c.searchTerms, operand)

	default: // BackendPlain
		// The external document engine receives escaped text; mirror that
		// so the keywords it reports line up with the rendered content.
		escaped := html.EscapeString(operand)
		phrases, words := splitSearchOperand(escaped)
		keywords := append(phrases, words...)
		for _, kw := range keywords {
			pattern := "%" + escapeLike(kw) + "%"
			q.whereMaybeNot(`(m.content LIKE ? ESCAPE '\' OR m.topic LIKE ? ESCAPE '\')`,
				t.Negated, pattern, pattern)
		}
		c.searchTerms = append(c.searchTerms, keywords...)
	}
	return nil
}

// addMatchColumns projects the marked-up highlight columns for fts-backend
// search narrows. Called once after all terms are folded.
func (c *compiler) addMatchColumns(q *SelectQuery) {
	if c.backend != BackendFTS || len(c.searchTerms) == 0 {
		return
	}
	phrases, words := splitSearchOperand(strings.Join(c.searchTerms, " "))
	match := ftsMatchExpr(phrases, words)
	q.Column("(SELECT highlight(messages_fts, 0, ?, ?) FROM messages_fts "+
		"WHERE rowid = m.id AND messages_fts MATCH ?) AS match_content",
		highlightStartMark, highlightEndMark, match)
	q.Column("(SELECT highlight(messages_fts, 1, ?, ?) FROM messages_fts "+
		"WHERE rowid = m.id AND messages_fts MATCH ?) AS match_topic",
		highlightStartMark, highlightEndMark, match)
}

// whereMaybeNot appends cond, wrapped in NOT when negated. The wrapper is
// uniform across operators, so negation semantics never depend on how an
// individual predicate was built.
func (q *SelectQuery) whereMaybeNot(cond string, negated bool, args ...any) {
	if negated {
		cond = "NOT (" + cond + ")"
	}
	q.Where(cond, args...)
}

// inCond renders a set-membership expression; empty sets are unsatisfiable.
func inCond(column string, ids []int64) (string, []any) {
	if len(ids) == 0 {
		return "1 = 0", nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ",")), args
}

// trimMirrorSuffixes strips trailing ".d" repetitions from a mirrored name.
func trimMirrorSuffixes(name string) string {
	for i := 0; i < maxMirrorSuffixes && strings.HasSuffix(name, mirrorSuffix); i++ {
		name = strings.TrimSuffix(name, mirrorSuffix)
	}
	return name
}

// escapeLike escapes LIKE wildcards with backslash.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

// splitSearchOperand separates double-quoted phrases from bare words.
func splitSearchOperand(operand string) (phrases, words []string) {
	var cur strings.Builder
	inQuotes := false
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		if inQuotes {
			phrases = append(phrases, cur.String())
		} else {
			words = append(words, cur.String())
		}
		cur.Reset()
	}
	for _, r := range operand {
		switch {
		case r == '"':
			flush()
			inQuotes = !inQuotes
		case r == ' ' && !inQuotes:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	// An unterminated quote falls back to word handling.
	if inQuotes {
		inQuotes = false
	}
	flush()
	return phrases, words
}

// ftsMatchExpr builds an FTS5 MATCH expression from phrases and words.
func ftsMatchExpr(phrases, words []string) string {
	terms := make([]string, 0, len(phrases)+len(words))
	for _, p := range phrases {
		terms = append(terms, `"`+strings.ReplaceAll(p, `"`, `""`)+`"`)
	}
	for _, w := range words {
		w = strings.ReplaceAll(w, `"`, `""`)
		if strings.ContainsAny(w, " ()*:^-") {
			terms = append(terms, `"`+w+`"`)
		} else {
			terms = append(terms, w)
		}
	}
	return strings.Join(terms, " ")
}
