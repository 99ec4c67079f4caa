package query

// classify trims the fetched window's headroom and derives the boundary
// flags. rows must be ascending by id, as produced by limitToRange.
func classify(rows []MessageRow, numBefore, numAfter int, anchor int64,
	anchoredLeft, anchoredRight bool, firstVisible int64) FetchResult {

	// The floor is enforced here for backward scans, which the range query
	// cannot bound from below without skewing their LIMIT.
	rowsLimited := false
	if firstVisible > 0 {
		visible := rows[:0:0]
		for _, r := range rows {
			if r.ID >= firstVisible {
				visible = append(visible, r)
			}
		}
		rowsLimited = len(visible) != len(rows)
		rows = visible
	}

	var before, equal, after []MessageRow
	if anchoredRight {
		numAfter = 0
		before = rows
	} else {
		for _, r := range rows {
			switch {
			case r.ID < anchor:
				before = append(before, r)
			case r.ID == anchor:
				equal = append(equal, r)
			default:
				after = append(after, r)
			}
		}
	}

	foundAnchor := len(equal) == 1
	foundOldest := anchoredLeft || len(before) < numBefore
	foundNewest := anchoredRight || len(after) < numAfter

	// Floor-induced truncation only matters when it coincides with the true
	// oldest boundary of the request. A known imprecision is preserved here:
	// when the floor bumps the anchor upward in a one-sided forward query,
	// hidden older messages are not reported as history_limited.
	historyLimited := rowsLimited && foundOldest

	if len(before) > numBefore {
		before = before[len(before)-numBefore:]
	}
	if len(after) > numAfter {
		after = after[:numAfter]
	}

	out := make([]MessageRow, 0, len(before)+len(equal)+len(after))
	out = append(out, before...)
	out = append(out, equal...)
	out = append(out, after...)

	return FetchResult{
		Rows:           out,
		FoundAnchor:    foundAnchor,
		FoundOldest:    foundOldest,
		FoundNewest:    foundNewest,
		HistoryLimited: historyLimited,
		Anchor:         anchor,
	}
}
