package query

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func paginateBase() *SelectQuery {
	q := NewSelectQuery("messages m", "m.id AS message_id")
	q.Where("m.realm_id = ?", int64(1))
	return q
}

func TestLimitToRangeTwoSided(t *testing.T) {
	stmt, args := limitToRange(paginateBase(), "m.id", 50, 2, 3, true, false, false, 0)

	want := "SELECT * FROM (" +
		"SELECT m.id AS message_id FROM messages m WHERE m.realm_id = ? AND m.id < ? ORDER BY m.id DESC LIMIT ?" +
		") UNION ALL SELECT * FROM (" +
		"SELECT m.id AS message_id FROM messages m WHERE m.realm_id = ? AND m.id >= ? ORDER BY m.id ASC LIMIT ?" +
		") ORDER BY message_id ASC"
	if stmt != want {
		t.Errorf("stmt = %q, want %q", stmt, want)
	}
	// One extra row of headroom on the after side captures the anchor row.
	wantArgs := []any{int64(1), int64(50), 2, int64(1), int64(50), 4}
	if diff := cmp.Diff(wantArgs, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestLimitToRangeTwoSidedFloorsForwardScan(t *testing.T) {
	_, args := limitToRange(paginateBase(), "m.id", 50, 2, 3, true, false, false, 70)

	// The backward bound stays at the anchor; the forward bound is raised to
	// the visibility floor.
	wantArgs := []any{int64(1), int64(50), 2, int64(1), int64(70), 4}
	if diff := cmp.Diff(wantArgs, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestLimitToRangeBackwardOnly(t *testing.T) {
	stmt, args := limitToRange(paginateBase(), "m.id", NewestAnchor, 5, 0, true, false, true, 0)

	want := "SELECT * FROM (" +
		"SELECT m.id AS message_id FROM messages m WHERE m.realm_id = ? AND m.id <= ? ORDER BY m.id DESC LIMIT ?" +
		") ORDER BY message_id ASC"
	if stmt != want {
		t.Errorf("stmt = %q, want %q", stmt, want)
	}
	// Anchored right: the sentinel cannot be a real row, so no headroom.
	wantArgs := []any{int64(1), NewestAnchor, 5}
	if diff := cmp.Diff(wantArgs, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestLimitToRangeBackwardHeadroomForRealAnchor(t *testing.T) {
	_, args := limitToRange(paginateBase(), "m.id", 50, 5, 0, true, false, false, 0)
	wantArgs := []any{int64(1), int64(50), 6}
	if diff := cmp.Diff(wantArgs, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestLimitToRangeBackwardExcludingAnchor(t *testing.T) {
	_, args := limitToRange(paginateBase(), "m.id", 50, 5, 0, false, false, false, 0)
	// The bound drops below the anchor, and the newest-boundary headroom row
	// is still requested: the range is not anchored right.
	wantArgs := []any{int64(1), int64(49), 6}
	if diff := cmp.Diff(wantArgs, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestLimitToRangeForwardOnly(t *testing.T) {
	stmt, args := limitToRange(paginateBase(), "m.id", 50, 0, 5, true, false, false, 0)

	want := "SELECT m.id AS message_id FROM messages m WHERE m.realm_id = ? AND m.id >= ? ORDER BY m.id ASC LIMIT ?"
	if stmt != want {
		t.Errorf("stmt = %q, want %q", stmt, want)
	}
	wantArgs := []any{int64(1), int64(50), 6}
	if diff := cmp.Diff(wantArgs, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestLimitToRangeForwardExcludingAnchor(t *testing.T) {
	_, args := limitToRange(paginateBase(), "m.id", 50, 0, 5, false, false, false, 0)
	wantArgs := []any{int64(1), int64(51), 5}
	if diff := cmp.Diff(wantArgs, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestLimitToRangeJumpToMessage(t *testing.T) {
	stmt, args := limitToRange(paginateBase(), "m.id", 50, 0, 0, true, false, false, 0)

	want := "SELECT m.id AS message_id FROM messages m WHERE m.realm_id = ? AND m.id = ?"
	if stmt != want {
		t.Errorf("stmt = %q, want %q", stmt, want)
	}
	wantArgs := []any{int64(1), int64(50)}
	if diff := cmp.Diff(wantArgs, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestLimitToRangeDoesNotMutateBase(t *testing.T) {
	base := paginateBase()
	before, _ := base.SQL("", 0)
	_, _ = limitToRange(base, "m.id", 50, 2, 3, true, false, false, 0)
	after, _ := base.SQL("", 0)
	if before != after {
		t.Errorf("base query mutated: %q -> %q", before, after)
	}
	if !strings.Contains(before, "m.realm_id = ?") {
		t.Fatalf("unexpected base SQL %q", before)
	}
}
