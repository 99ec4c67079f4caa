package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/quillchat/quill/internal/narrow"
	"github.com/quillchat/quill/internal/query"
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Result string `json:"result"`
	Code   string `json:"code"`
	Msg    string `json:"msg,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code string, msg string) {
	writeJSON(w, status, ErrorResponse{Result: "error", Code: code, Msg: msg})
}

// writeRequestError maps engine errors onto HTTP responses. Anything that is
// not a request error is an internal failure.
func (s *Server) writeRequestError(w http.ResponseWriter, err error) {
	var reqErr narrow.RequestError
	if errors.As(err, &reqErr) {
		writeError(w, http.StatusBadRequest, reqErr.Code(), reqErr.Error())
		return
	}
	s.logger.Error("fetch failed", "error", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch messages")
}

// MessageJSON is one message in a fetch response.
type MessageJSON struct {
	ID           int64    `json:"id"`
	SenderID     int64    `json:"sender_id"`
	RecipientID  int64    `json:"recipient_id"`
	Topic        string   `json:"subject"`
	Content      string   `json:"content"`
	Timestamp    int64    `json:"timestamp"`
	Type         string   `json:"type"` // "stream" or "private"
	Flags        []string `json:"flags"`
	MatchContent string   `json:"match_content,omitempty"`
	MatchTopic   string   `json:"match_subject,omitempty"`
}

// FetchResponse is the fetch endpoint's success envelope.
type FetchResponse struct {
	Result         string        `json:"result"`
	Messages       []MessageJSON `json:"messages"`
	FoundAnchor    bool          `json:"found_anchor"`
	FoundOldest    bool          `json:"found_oldest"`
	FoundNewest    bool          `json:"found_newest"`
	HistoryLimited bool          `json:"history_limited"`
	Anchor         int64         `json:"anchor"`
}

// handleGetMessages fetches a bounded window of messages around an anchor.
func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var terms narrow.Narrow
	if raw := q.Get("narrow"); raw != "" {
		var err error
		terms, err = narrow.Parse([]byte(raw))
		if err != nil {
			s.writeRequestError(w, err)
			return
		}
	}

	numBefore, err := intParam(q.Get("num_before"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "num_before must be a non-negative integer")
		return
	}
	numAfter, err := intParam(q.Get("num_after"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "num_after must be a non-negative integer")
		return
	}

	params := query.FetchParams{
		Narrow:         terms,
		RealmID:        s.cfg.Engine.DefaultRealm,
		AnchorToken:    q.Get("anchor"),
		UseFirstUnread: boolParam(q.Get("use_first_unread_anchor")),
		IncludeAnchor:  true,
		NumBefore:      numBefore,
		NumAfter:       numAfter,
	}
	if q.Get("include_anchor") != "" {
		params.IncludeAnchor = boolParam(q.Get("include_anchor"))
	}
	if realmRaw := q.Get("realm_id"); realmRaw != "" {
		realmID, err := strconv.ParseInt(realmRaw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "realm_id must be an integer")
			return
		}
		params.RealmID = realmID
	}

	if boolParam(q.Get("web_public")) {
		params.WebPublic = true
	} else {
		userRaw := q.Get("user_id")
		if userRaw == "" {
			writeError(w, http.StatusBadRequest, "REQUEST_VARIABLE_MISSING", "Missing 'user_id' argument")
			return
		}
		userID, err := strconv.ParseInt(userRaw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "user_id must be an integer")
			return
		}
		u, err := s.users.UserByID(r.Context(), params.RealmID, userID)
		if err != nil {
			if errors.Is(err, query.ErrNotFound) {
				writeError(w, http.StatusBadRequest, "USER_DOES_NOT_EXIST", "Invalid user ID")
				return
			}
			s.writeRequestError(w, err)
			return
		}
		params.User = &query.UserContext{
			ID:          u.ID,
			Email:       u.Email,
			RecipientID: u.RecipientID,
			IsGuest:     u.IsGuest,
		}
	}

	result, err := s.fetcher.FetchMessages(r.Context(), params)
	if err != nil {
		s.writeRequestError(w, err)
		return
	}

	resp := FetchResponse{
		Result:         "success",
		Messages:       make([]MessageJSON, 0, len(result.Rows)),
		FoundAnchor:    result.FoundAnchor,
		FoundOldest:    result.FoundOldest,
		FoundNewest:    result.FoundNewest,
		HistoryLimited: result.HistoryLimited,
		Anchor:         result.Anchor,
	}
	for _, row := range result.Rows {
		msgType := "stream"
		if row.IsDM {
			msgType = "private"
		}
		resp.Messages = append(resp.Messages, MessageJSON{
			ID:           row.ID,
			SenderID:     row.SenderID,
			RecipientID:  row.RecipientID,
			Topic:        row.Topic,
			Content:      row.Content,
			Timestamp:    row.SentAt.Unix(),
			Type:         msgType,
			Flags:        flagNames(row.Flags),
			MatchContent: row.MatchContent,
			MatchTopic:   row.MatchTopic,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// StatsResponse represents store statistics.
type StatsResponse struct {
	TotalRealms    int64 `json:"total_realms"`
	TotalUsers     int64 `json:"total_users"`
	TotalChannels  int64 `json:"total_channels"`
	TotalMessages  int64 `json:"total_messages"`
	TotalDelivered int64 `json:"total_delivered"`
	DatabaseSize   int64 `json:"database_size_bytes"`
}

// handleStats returns store statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Database not available")
		return
	}

	stats, err := s.store.GetStats()
	if err != nil {
		s.logger.Error("failed to get stats", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to retrieve statistics")
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		TotalRealms:    stats.RealmCount,
		TotalUsers:     stats.UserCount,
		TotalChannels:  stats.ChannelCount,
		TotalMessages:  stats.MessageCount,
		TotalDelivered: stats.DeliveryRows,
		DatabaseSize:   stats.DatabaseSize,
	})
}

// flagNames expands a delivery flag bitmask into its wire names.
func flagNames(flags int64) []string {
	names := []string{}
	for _, f := range []struct {
		bit  int64
		name string
	}{
		{narrow.FlagRead, "read"},
		{narrow.FlagStarred, "starred"},
		{narrow.FlagMentioned, "mentioned"},
		{narrow.FlagAlerted, "has_alert_word"},
		{narrow.FlagFollowed, "followed"},
	} {
		if flags&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return names
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}

func boolParam(raw string) bool {
	return raw == "true" || raw == "1"
}
