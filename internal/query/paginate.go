package query

import "fmt"

// limitToRange turns a compiled, anchor-free base query into a bounded window
// around the anchor. The anchor row may not exist (deleted, or a sentinel),
// so instead of one BETWEEN scan the range is built from up to two
// directional sub-queries with independent headroom, unioned in ascending id
// order. The base query's first projected column must be the logical message
// id aliased as message_id.
func limitToRange(base *SelectQuery, idColumn string, anchor int64,
	numBefore, numAfter int, includeAnchor, anchoredLeft, anchoredRight bool,
	firstVisible int64) (string, []any) {

	needBefore := !anchoredLeft && numBefore > 0
	needAfter := !anchoredRight && numAfter > 0

	switch {
	case needBefore && needAfter:
		// The "after" side scans >= anchor with one extra row of headroom so
		// an exact-anchor row is captured by exactly one side.
		before := base.Clone()
		before.Where(idColumn+" < ?", anchor)
		beforeSQL, beforeArgs := before.SQL(idColumn+" DESC", numBefore)

		after := base.Clone()
		after.Where(idColumn+" >= ?", maxInt64(anchor, firstVisible))
		afterSQL, afterArgs := after.SQL(idColumn+" ASC", numAfter+1)

		stmt := fmt.Sprintf(
			"SELECT * FROM (%s) UNION ALL SELECT * FROM (%s) ORDER BY message_id ASC",
			beforeSQL, afterSQL)
		return stmt, append(beforeArgs, afterArgs...)

	case needBefore:
		beforeAnchor := anchor
		if !includeAnchor {
			beforeAnchor = anchor - 1
		}
		limit := numBefore
		if !anchoredRight {
			// One extra row so the newest boundary is detected truthfully;
			// classify discards it after computing the flags.
			limit++
		}
		q := base.Clone()
		q.Where(idColumn+" <= ?", beforeAnchor)
		stmt, args := q.SQL(idColumn+" DESC", limit)
		return fmt.Sprintf("SELECT * FROM (%s) ORDER BY message_id ASC", stmt), args

	case needAfter:
		afterAnchor := anchor
		if !includeAnchor {
			afterAnchor++
		}
		// The floor raises the effective lower bound of any forward scan;
		// backward scans are floored in post-processing instead.
		afterAnchor = maxInt64(afterAnchor, firstVisible)
		limit := numAfter
		if includeAnchor {
			limit++
		}
		q := base.Clone()
		q.Where(idColumn+" >= ?", afterAnchor)
		return q.SQL(idColumn+" ASC", limit)

	default:
		// Pure jump-to-message: at most the anchor row itself.
		q := base.Clone()
		q.Where(idColumn+" = ?", anchor)
		return q.SQL("", 0)
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
