package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/quillchat/quill/internal/narrow"
)

func TestTrimMirrorSuffixes(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"verona", "verona"},
		{"verona.d", "verona"},
		{"verona.d.d", "verona"},
		{"verona.d.d.d.d", "verona"},
		{"verona.d.d.d.d.d", "verona.d"}, // folding is capped
		{"docs", "docs"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := trimMirrorSuffixes(tt.in); got != tt.want {
			t.Errorf("trimMirrorSuffixes(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"100%", `100\%`},
		{"a_b", `a\_b`},
		{`back\slash`, `back\\slash`},
		{`mix\%_`, `mix\\\%\_`},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitSearchOperand(t *testing.T) {
	tests := []struct {
		in          string
		wantPhrases []string
		wantWords   []string
	}{
		{"burrito", nil, []string{"burrito"}},
		{"black coffee", nil, []string{"black", "coffee"}},
		{`"french fries"`, []string{"french fries"}, nil},
		{`"french fries" ketchup`, []string{"french fries"}, []string{"ketchup"}},
		{`salt "french fries" pepper`, []string{"french fries"}, []string{"salt", "pepper"}},
		{`"unterminated quote`, nil, []string{"unterminated quote"}},
		{"  spaced   out  ", nil, []string{"spaced", "out"}},
		{"", nil, nil},
	}
	for _, tt := range tests {
		phrases, words := splitSearchOperand(tt.in)
		if diff := cmp.Diff(tt.wantPhrases, phrases); diff != "" {
			t.Errorf("splitSearchOperand(%q) phrases mismatch (-want +got):\n%s", tt.in, diff)
		}
		if diff := cmp.Diff(tt.wantWords, words); diff != "" {
			t.Errorf("splitSearchOperand(%q) words mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestFtsMatchExpr(t *testing.T) {
	tests := []struct {
		phrases []string
		words   []string
		want    string
	}{
		{nil, []string{"burrito"}, "burrito"},
		{[]string{"french fries"}, nil, `"french fries"`},
		{[]string{"french fries"}, []string{"ketchup"}, `"french fries" ketchup`},
		{nil, []string{"a:b"}, `"a:b"`}, // operator characters force quoting
		{nil, []string{`say "hi"`}, `"say ""hi"""`},
	}
	for _, tt := range tests {
		if got := ftsMatchExpr(tt.phrases, tt.words); got != tt.want {
			t.Errorf("ftsMatchExpr(%v, %v) = %q, want %q", tt.phrases, tt.words, got, tt.want)
		}
	}
}

// fakeDirs is an in-memory Directories implementation for compilation tests.
type fakeDirs struct {
	channels       []*Channel
	users          []*User
	groups         map[string]*Recipient
	groupIncluding map[int64][]int64
	mutedChannels  []int64
	mutedTopics    []MutedTopic
	subscribed     map[int64][]int64 // userID -> channelIDs
	firstVisible   int64
}

func (f *fakeDirs) bundle() Directories {
	return Directories{Channels: f, Users: f, Conversations: f, Mutes: f, Realms: f}
}

func (f *fakeDirs) ChannelByName(_ context.Context, _ int64, name string) (*Channel, error) {
	for _, ch := range f.channels {
		if strings.EqualFold(ch.Name, name) {
			return ch, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeDirs) ChannelByID(_ context.Context, _ int64, id int64) (*Channel, error) {
	for _, ch := range f.channels {
		if ch.ID == id {
			return ch, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeDirs) PublicChannelRecipientIDs(context.Context, int64) ([]int64, error) {
	var ids []int64
	for _, ch := range f.channels {
		if ch.IsPublic {
			ids = append(ids, ch.RecipientID)
		}
	}
	return ids, nil
}

func (f *fakeDirs) WebPublicChannelRecipientIDs(context.Context, int64) ([]int64, error) {
	var ids []int64
	for _, ch := range f.channels {
		if ch.IsWebPublic {
			ids = append(ids, ch.RecipientID)
		}
	}
	return ids, nil
}

func (f *fakeDirs) IsSubscribed(_ context.Context, userID, channelID int64) (bool, error) {
	for _, id := range f.subscribed[userID] {
		if id == channelID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDirs) UserByEmail(_ context.Context, _ int64, email string) (*User, error) {
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeDirs) UserByID(_ context.Context, _ int64, id int64) (*User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, ErrNotFound
}

func groupKey(ids []int64) string {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}

func (f *fakeDirs) GroupRecipient(_ context.Context, userIDs []int64) (*Recipient, error) {
	if r, ok := f.groups[groupKey(userIDs)]; ok {
		return r, nil
	}
	return nil, ErrNotFound
}

func (f *fakeDirs) GroupRecipientIDsIncluding(_ context.Context, userID int64) ([]int64, error) {
	return f.groupIncluding[userID], nil
}

func (f *fakeDirs) MutedChannelRecipientIDs(context.Context, int64) ([]int64, error) {
	return f.mutedChannels, nil
}

func (f *fakeDirs) MutedTopics(_ context.Context, _ int64, channelID int64) ([]MutedTopic, error) {
	if channelID == 0 {
		return f.mutedTopics, nil
	}
	ch, err := f.ChannelByID(context.Background(), 0, channelID)
	if err != nil {
		return nil, err
	}
	var out []MutedTopic
	for _, mt := range f.mutedTopics {
		if mt.RecipientID == ch.RecipientID {
			out = append(out, mt)
		}
	}
	return out, nil
}

func (f *fakeDirs) FirstVisibleMessageID(context.Context, int64) (int64, error) {
	return f.firstVisible, nil
}

func compileTestFixture() *fakeDirs {
	return &fakeDirs{
		channels: []*Channel{
			{ID: 1, Name: "general", RecipientID: 201, IsPublic: true, HistoryPublicToSubscribers: true},
			{ID: 2, Name: "lobby", RecipientID: 202, IsPublic: true, IsWebPublic: true, HistoryPublicToSubscribers: true},
			{ID: 3, Name: "vault", RecipientID: 203},
		},
		users: []*User{
			{ID: 11, Email: "alice@example.com", RecipientID: 101},
			{ID: 12, Email: "bob@example.com", RecipientID: 102},
			{ID: 13, Email: "carol@example.com", RecipientID: 103},
			{ID: 14, Email: "dave@example.com", RecipientID: 104},
		},
		groups: map[string]*Recipient{
			groupKey([]int64{11, 12, 13}): {ID: 301, IsGroup: true},
		},
		// 302 is a group without carol, 305 and 309 are groups without alice.
		groupIncluding: map[int64][]int64{
			11: {301, 302},
			12: {301},
			13: {301, 305},
			14: {309},
		},
	}
}

// compileNarrow folds terms over a fresh message-table query and returns the
// rendered WHERE clause and arguments.
func compileNarrow(t *testing.T, c *compiler, terms narrow.Narrow) (string, []any) {
	t.Helper()
	q := NewSelectQuery("messages m", "m.id AS message_id")
	for _, term := range terms {
		if err := c.applyTerm(context.Background(), q, term); err != nil {
			t.Fatalf("applyTerm(%v): %v", term, err)
		}
	}
	stmt, args := q.SQL("", 0)
	_, where, _ := strings.Cut(stmt, " WHERE ")
	return where, args
}

func mustTerm(t *testing.T, operator string, operand any, negated bool) narrow.Term {
	t.Helper()
	term, err := narrow.NewTerm(operator, operand, negated)
	if err != nil {
		t.Fatalf("NewTerm(%s, %v): %v", operator, operand, err)
	}
	return term
}

func newTestCompiler(dirs *fakeDirs) *compiler {
	return &compiler{
		dirs:     dirs.bundle(),
		realmID:  1,
		me:       &UserContext{ID: 11, Email: "alice@example.com", RecipientID: 101},
		backend:  BackendFTS,
		idColumn: "m.id",
	}
}

func TestCompileChannelTerm(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	where, args := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "channel", "general", false)})

	if where != "m.recipient_id = ?" {
		t.Errorf("where = %q", where)
	}
	if diff := cmp.Diff([]any{int64(201)}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if c.scopedChannel == nil || c.scopedChannel.ID != 1 {
		t.Errorf("scopedChannel = %+v, want channel 1", c.scopedChannel)
	}
}

func TestCompileNegatedChannelTermDoesNotScope(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	where, _ := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "channel", "general", true)})

	if where != "NOT (m.recipient_id = ?)" {
		t.Errorf("where = %q", where)
	}
	if c.scopedChannel != nil {
		t.Errorf("scopedChannel = %+v, want nil", c.scopedChannel)
	}
}

func TestCompileStreamSynonym(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	where, _ := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "stream", "general", false)})
	if where != "m.recipient_id = ?" {
		t.Errorf("where = %q", where)
	}
}

func TestCompileUnknownChannel(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	q := NewSelectQuery("messages m", "m.id AS message_id")
	err := c.applyTerm(context.Background(), q, mustTerm(t, "channel", "no-such", false))
	if _, ok := err.(*narrow.UnknownChannelError); !ok {
		t.Fatalf("err = %v, want UnknownChannelError", err)
	}
}

func TestCompileWebPublicRejectsNonWebPublicChannel(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	c.webPublic = true
	c.me = nil
	q := NewSelectQuery("messages m", "m.id AS message_id")
	err := c.applyTerm(context.Background(), q, mustTerm(t, "channel", "general", false))
	if _, ok := err.(*narrow.UnknownChannelError); !ok {
		t.Fatalf("err = %v, want UnknownChannelError", err)
	}
}

func TestCompileTopicTerm(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	where, args := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "topic", "Lunch", false)})
	if where != "LOWER(m.topic) = LOWER(?)" {
		t.Errorf("where = %q", where)
	}
	if diff := cmp.Diff([]any{"Lunch"}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileSenderByEmailAndID(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	whereEmail, argsEmail := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "from", "bob@example.com", false)})
	whereID, argsID := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "sender", 12, false)})

	if whereEmail != whereID {
		t.Errorf("email form %q differs from id form %q", whereEmail, whereID)
	}
	if diff := cmp.Diff(argsEmail, argsID); diff != "" {
		t.Errorf("args mismatch (-email +id):\n%s", diff)
	}
	if diff := cmp.Diff([]any{int64(12)}, argsID); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileDMSelf(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	where, args := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "dm", "alice@example.com", false)})
	if where != "(m.is_dm = 1 AND m.sender_id = ? AND m.recipient_id = ?)" {
		t.Errorf("where = %q", where)
	}
	if diff := cmp.Diff([]any{int64(11), int64(101)}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileDMOneToOne(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	where, args := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "dm", "bob@example.com", false)})

	want := "(m.is_dm = 1 AND m.realm_id = ? AND " +
		"((m.sender_id = ? AND m.recipient_id = ?) OR (m.sender_id = ? AND m.recipient_id = ?)))"
	if where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	if diff := cmp.Diff([]any{int64(1), int64(12), int64(101), int64(11), int64(102)}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileDMGroup(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	where, args := compileNarrow(t, c,
		narrow.Narrow{mustTerm(t, "dm", "bob@example.com, carol@example.com", false)})

	if where != "m.recipient_id = ?" {
		t.Errorf("where = %q", where)
	}
	if diff := cmp.Diff([]any{int64(301)}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileDMGroupNeverExisted(t *testing.T) {
	fixture := compileTestFixture()
	fixture.users = append(fixture.users, &User{ID: 14, Email: "dave@example.com", RecipientID: 104})
	c := newTestCompiler(fixture)
	where, _ := compileNarrow(t, c,
		narrow.Narrow{mustTerm(t, "dm", "bob@example.com, dave@example.com", false)})
	if where != "1 = 0" {
		t.Errorf("where = %q, want unsatisfiable", where)
	}
}

func TestCompilePMWithSynonym(t *testing.T) {
	direct := newTestCompiler(compileTestFixture())
	legacy := newTestCompiler(compileTestFixture())
	whereDirect, _ := compileNarrow(t, direct, narrow.Narrow{mustTerm(t, "dm", "bob@example.com", false)})
	whereLegacy, _ := compileNarrow(t, legacy, narrow.Narrow{mustTerm(t, "pm-with", "bob@example.com", false)})
	if whereDirect != whereLegacy {
		t.Errorf("dm form %q differs from pm-with form %q", whereDirect, whereLegacy)
	}
}

func TestCompileDMIncluding(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	where, args := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "dm-including", "bob@example.com", false)})

	want := "(m.is_dm = 1 AND (m.sender_id = ? OR m.recipient_id = ? OR m.recipient_id IN (?)))"
	if where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	if diff := cmp.Diff([]any{int64(12), int64(102), int64(301)}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileDMIncludingSelfIsAllDMs(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	where, _ := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "dm-including", "alice@example.com", false)})
	if where != "m.is_dm = 1" {
		t.Errorf("where = %q", where)
	}
}

func TestCompileGroupDMIntersectsWithRequester(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	where, args := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "group-dm", "carol@example.com", false)})

	// Carol's group without alice (305) does not qualify.
	want := "(m.is_dm = 1 AND m.recipient_id IN (?))"
	if where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	if diff := cmp.Diff([]any{int64(301)}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileGroupDMNoSharedConversations(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	where, _ := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "group-dm", "dave@example.com", false)})

	if where != "(m.is_dm = 1 AND 1 = 0)" {
		t.Errorf("where = %q, want unsatisfiable group predicate", where)
	}
}

func TestCompileIsTerms(t *testing.T) {
	tests := []struct {
		operand string
		want    string
	}{
		{"dm", "m.is_dm = 1"},
		{"starred", fmt.Sprintf("(um.flags & %d) != 0", narrow.FlagStarred)},
		{"unread", fmt.Sprintf("(um.flags & %d) = 0", narrow.FlagRead)},
		{"mentioned", fmt.Sprintf("(um.flags & %d) != 0", narrow.FlagMentioned)},
		{"alerted", fmt.Sprintf("(um.flags & %d) != 0", narrow.FlagAlerted)},
		{"followed", fmt.Sprintf("(um.flags & %d) != 0", narrow.FlagFollowed)},
		{"resolved", "m.topic LIKE ?"},
	}
	for _, tt := range tests {
		t.Run(tt.operand, func(t *testing.T) {
			c := newTestCompiler(compileTestFixture())
			where, _ := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "is", tt.operand, false)})
			if where != tt.want {
				t.Errorf("where = %q, want %q", where, tt.want)
			}
		})
	}
}

func TestCompileIsPrivateAlias(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	where, _ := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "is", "private", false)})
	if where != "m.is_dm = 1" {
		t.Errorf("where = %q", where)
	}
}

func TestCompileFlagTermRequiresUser(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	c.me = nil
	q := NewSelectQuery("messages m", "m.id AS message_id")
	err := c.applyTerm(context.Background(), q, mustTerm(t, "is", "starred", false))
	if _, ok := err.(*narrow.CombinationError); !ok {
		t.Fatalf("err = %v, want CombinationError", err)
	}
}

func TestCompileHasTerms(t *testing.T) {
	tests := []struct {
		operand string
		want    string
	}{
		{"attachment", "m.has_attachment = 1"},
		{"attachments", "m.has_attachment = 1"}, // plural folds to singular
		{"image", "m.has_image = 1"},
		{"link", "m.has_link = 1"},
		{"reaction", "EXISTS (SELECT 1 FROM reactions r WHERE r.message_id = m.id)"},
	}
	for _, tt := range tests {
		t.Run(tt.operand, func(t *testing.T) {
			c := newTestCompiler(compileTestFixture())
			where, _ := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "has", tt.operand, false)})
			if where != tt.want {
				t.Errorf("where = %q, want %q", where, tt.want)
			}
		})
	}
}

func TestCompileInHomeAppliesMuting(t *testing.T) {
	fixture := compileTestFixture()
	fixture.mutedChannels = []int64{203}
	fixture.mutedTopics = []MutedTopic{{RecipientID: 201, Topic: "noise"}}
	c := newTestCompiler(fixture)
	where, args := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "in", "home", false)})

	want := "(NOT (m.recipient_id IN (?) AND m.is_dm = 0) AND " +
		"NOT (m.recipient_id = ? AND LOWER(m.topic) = LOWER(?)))"
	if where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	if diff := cmp.Diff([]any{int64(203), int64(201), "noise"}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileInHomeScopedChannelSkipsChannelMuting(t *testing.T) {
	fixture := compileTestFixture()
	fixture.mutedChannels = []int64{201}
	fixture.mutedTopics = []MutedTopic{
		{RecipientID: 201, Topic: "noise"},
		{RecipientID: 202, Topic: "elsewhere"},
	}
	c := newTestCompiler(fixture)
	where, args := compileNarrow(t, c, narrow.Narrow{
		mustTerm(t, "channel", "general", false),
		mustTerm(t, "in", "home", false),
	})

	// Narrowing to a muted channel still shows it; only that channel's
	// topic mutes apply.
	want := "m.recipient_id = ? AND (NOT (m.recipient_id = ? AND LOWER(m.topic) = LOWER(?)))"
	if where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	if diff := cmp.Diff([]any{int64(201), int64(201), "noise"}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileInAllIsNoOp(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	q := NewSelectQuery("messages m", "m.id AS message_id")
	if err := c.applyTerm(context.Background(), q, mustTerm(t, "in", "all", false)); err != nil {
		t.Fatalf("applyTerm: %v", err)
	}
	stmt, _ := q.SQL("", 0)
	if strings.Contains(stmt, "WHERE") {
		t.Errorf("in:all added a predicate: %q", stmt)
	}
}

func TestCompileNearAddsNoPredicate(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	q := NewSelectQuery("messages m", "m.id AS message_id")
	if err := c.applyTerm(context.Background(), q, mustTerm(t, "near", 15, false)); err != nil {
		t.Fatalf("applyTerm: %v", err)
	}
	stmt, _ := q.SQL("", 0)
	if strings.Contains(stmt, "WHERE") {
		t.Errorf("near added a predicate: %q", stmt)
	}
}

func TestCompileIDTermUsesRowSourceColumn(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	c.idColumn = "um.message_id"
	where, args := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "id", "15", false)})
	if where != "um.message_id = ?" {
		t.Errorf("where = %q", where)
	}
	if diff := cmp.Diff([]any{int64(15)}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileSearchFTS(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	where, args := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "search", `"french fries"`, false)})

	want := "m.id IN (SELECT rowid FROM messages_fts WHERE messages_fts MATCH ?) AND " +
		`(m.content LIKE ? ESCAPE '\' OR m.topic LIKE ? ESCAPE '\')`
	if where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	wantArgs := []any{`"french fries"`, "%french fries%", "%french fries%"}
	if diff := cmp.Diff(wantArgs, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileSearchPlain(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	c.backend = BackendPlain
	where, args := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "search", "black coffee", false)})

	want := `(m.content LIKE ? ESCAPE '\' OR m.topic LIKE ? ESCAPE '\') AND ` +
		`(m.content LIKE ? ESCAPE '\' OR m.topic LIKE ? ESCAPE '\')`
	if where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	wantArgs := []any{"%black%", "%black%", "%coffee%", "%coffee%"}
	if diff := cmp.Diff(wantArgs, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"black", "coffee"}, c.searchTerms); diff != "" {
		t.Errorf("searchTerms mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileChannelsPublic(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	where, args := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "channels", "public", false)})
	if where != "m.recipient_id IN (?,?)" {
		t.Errorf("where = %q", where)
	}
	if diff := cmp.Diff([]any{int64(201), int64(202)}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileChannelsWebPublic(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	where, args := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "channels", "web-public", false)})
	if where != "m.recipient_id IN (?)" {
		t.Errorf("where = %q", where)
	}
	if diff := cmp.Diff([]any{int64(202)}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileMirrorChannelFoldsSuffixVariants(t *testing.T) {
	fixture := compileTestFixture()
	fixture.channels = append(fixture.channels,
		&Channel{ID: 4, Name: "verona", RecipientID: 204, IsPublic: true},
		&Channel{ID: 5, Name: "verona.d", RecipientID: 205, IsPublic: true},
		&Channel{ID: 6, Name: "verona.d.d", RecipientID: 206, IsPublic: true},
	)
	c := newTestCompiler(fixture)
	c.mirror = true
	where, args := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "channel", "verona.d", false)})

	if where != "m.recipient_id IN (?,?,?)" {
		t.Errorf("where = %q", where)
	}
	if diff := cmp.Diff([]any{int64(204), int64(205), int64(206)}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileMirrorTopicFoldsEmptyTopicSynonyms(t *testing.T) {
	c := newTestCompiler(compileTestFixture())
	c.mirror = true
	where, args := compileNarrow(t, c, narrow.Narrow{mustTerm(t, "topic", "(no topic)", false)})

	// Two base names, each with the bare form plus four suffix variants.
	if got := strings.Count(where, "LOWER(m.topic) = LOWER(?)"); got != 10 {
		t.Errorf("predicate count = %d, want 10; where = %q", got, where)
	}
	if len(args) != 10 {
		t.Errorf("args = %v, want 10 values", args)
	}
	if args[0] != "" || args[5] != "(no topic)" {
		t.Errorf("args = %v, want empty-name variants then synonym variants", args)
	}
}
