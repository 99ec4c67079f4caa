package cmd

import (
	"context"
	"fmt"

	"github.com/quillchat/quill/internal/narrow"
	"github.com/quillchat/quill/internal/query"
	"github.com/quillchat/quill/internal/store"
	"github.com/spf13/cobra"
)

var (
	fetchNarrow     string
	fetchAnchor     string
	fetchNumBefore  int
	fetchNumAfter   int
	fetchUserEmail  string
	fetchRealmID    int64
	fetchWebPublic  bool
	fetchNoAnchor   bool
	fetchShowSearch bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch a window of messages around an anchor",
	Long: `Fetch a bounded window of messages from the local database, the same
operation the HTTP API serves.

The narrow is a JSON list of terms, for example:
  quill fetch --user alice@example.com \
    --narrow '[{"operator":"channel","operand":"general"},{"operator":"topic","operand":"lunch"}]' \
    --anchor newest --num-before 20

Anchors: a message id, "newest", "oldest", or "first_unread".`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchNarrow, "narrow", "", "narrow terms as JSON")
	fetchCmd.Flags().StringVar(&fetchAnchor, "anchor", "newest", "anchor message id or token")
	fetchCmd.Flags().IntVar(&fetchNumBefore, "num-before", 10, "messages before the anchor")
	fetchCmd.Flags().IntVar(&fetchNumAfter, "num-after", 10, "messages after the anchor")
	fetchCmd.Flags().StringVar(&fetchUserEmail, "user", "", "requesting user's email")
	fetchCmd.Flags().Int64Var(&fetchRealmID, "realm", 0, "realm id (default from config)")
	fetchCmd.Flags().BoolVar(&fetchWebPublic, "web-public", false, "unauthenticated web-public fetch")
	fetchCmd.Flags().BoolVar(&fetchNoAnchor, "exclude-anchor", false, "exclude the anchor message itself")
	fetchCmd.Flags().BoolVar(&fetchShowSearch, "show-match", false, "print highlighted match fields")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	s, engine, err := openEngine()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()

	realmID := fetchRealmID
	if realmID == 0 {
		realmID = cfg.Engine.DefaultRealm
	}

	var terms narrow.Narrow
	if fetchNarrow != "" {
		terms, err = narrow.Parse([]byte(fetchNarrow))
		if err != nil {
			return fmt.Errorf("parse narrow: %w", err)
		}
	}

	params := query.FetchParams{
		Narrow:        terms,
		RealmID:       realmID,
		WebPublic:     fetchWebPublic,
		AnchorToken:   fetchAnchor,
		IncludeAnchor: !fetchNoAnchor,
		NumBefore:     fetchNumBefore,
		NumAfter:      fetchNumAfter,
	}
	if !fetchWebPublic {
		if fetchUserEmail == "" {
			return fmt.Errorf("--user is required unless --web-public is set")
		}
		user, err := resolveUser(ctx, s, realmID, fetchUserEmail)
		if err != nil {
			return err
		}
		params.User = user
	}

	result, err := engine.FetchMessages(ctx, params)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	fmt.Printf("anchor=%d found_anchor=%v found_oldest=%v found_newest=%v history_limited=%v\n\n",
		result.Anchor, result.FoundAnchor, result.FoundOldest, result.FoundNewest, result.HistoryLimited)
	for _, m := range result.Rows {
		kind := "channel"
		if m.IsDM {
			kind = "dm"
		}
		fmt.Printf("#%d [%s] %s | sender=%d flags=%s\n  %s\n",
			m.ID, kind, m.Topic, m.SenderID, query.FlagNames(m.Flags), m.Content)
		if fetchShowSearch && (m.MatchContent != "" || m.MatchTopic != "") {
			fmt.Printf("  match_subject: %s\n  match_content: %s\n", m.MatchTopic, m.MatchContent)
		}
	}
	fmt.Printf("\n%d messages\n", len(result.Rows))
	return nil
}

func resolveUser(ctx context.Context, s *store.Store, realmID int64, email string) (*query.UserContext, error) {
	dir := store.NewDirectory(s)
	u, err := dir.UserByEmail(ctx, realmID, email)
	if err != nil {
		return nil, fmt.Errorf("resolve user %q: %w", email, err)
	}
	return &query.UserContext{
		ID:          u.ID,
		Email:       u.Email,
		RecipientID: u.RecipientID,
		IsGuest:     u.IsGuest,
	}, nil
}
