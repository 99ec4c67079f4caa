package query

import (
	"fmt"
	"strings"
)

// SelectQuery accumulates the parts of a SELECT statement: projected columns,
// joins, conjoined WHERE conditions, and their bound arguments. Its methods
// only ever append; there is no way to remove or relax a predicate once
// added. Term compilation is folded over a SelectQuery, so a query that
// returns only messages the caller may see still does after every term.
type SelectQuery struct {
	columns  []string
	colArgs  []any // arguments bound inside column expressions
	from     string
	joins    []string
	conds    []string
	condArgs []any
}

// NewSelectQuery starts a query over the given FROM clause.
func NewSelectQuery(from string, columns ...string) *SelectQuery {
	return &SelectQuery{from: from, columns: columns}
}

// Column appends a projected column expression. Arguments bound inside the
// expression are kept ahead of all WHERE arguments, matching placeholder
// order in the rendered SQL.
func (q *SelectQuery) Column(expr string, args ...any) {
	q.columns = append(q.columns, expr)
	q.colArgs = append(q.colArgs, args...)
}

// NumColumns returns the number of projected columns.
func (q *SelectQuery) NumColumns() int { return len(q.columns) }

// Join appends a join clause.
func (q *SelectQuery) Join(clause string) {
	q.joins = append(q.joins, clause)
}

// Where appends one condition, ANDed with all previously added conditions.
func (q *SelectQuery) Where(cond string, args ...any) {
	q.conds = append(q.conds, cond)
	q.condArgs = append(q.condArgs, args...)
}

// WhereIn appends a set-membership condition over the given column. An empty
// set compiles to an unsatisfiable condition, and a negated empty set to a
// tautology, so negation semantics hold for every set size.
func (q *SelectQuery) WhereIn(column string, ids []int64, negated bool) {
	if len(ids) == 0 {
		if negated {
			q.Where("1 = 1")
		} else {
			q.Where("1 = 0")
		}
		return
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	cond := fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ","))
	if negated {
		cond = "NOT (" + cond + ")"
	}
	q.Where(cond, args...)
}

// Clone returns an independent copy. The pagination layer clones the compiled
// base query to build its two directional scans.
func (q *SelectQuery) Clone() *SelectQuery {
	c := &SelectQuery{from: q.from}
	c.columns = append([]string(nil), q.columns...)
	c.colArgs = append([]any(nil), q.colArgs...)
	c.joins = append([]string(nil), q.joins...)
	c.conds = append([]string(nil), q.conds...)
	c.condArgs = append([]any(nil), q.condArgs...)
	return c
}

// SQL renders the accumulated query with an optional ORDER BY and LIMIT.
// limit <= 0 means no limit.
func (q *SelectQuery) SQL(orderBy string, limit int) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(q.columns, ", "))
	b.WriteString(" FROM ")
	b.WriteString(q.from)
	for _, j := range q.joins {
		b.WriteString(" ")
		b.WriteString(j)
	}
	if len(q.conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.conds, " AND "))
	}
	if orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderBy)
	}
	args := make([]any, 0, len(q.colArgs)+len(q.condArgs)+1)
	args = append(args, q.colArgs...)
	args = append(args, q.condArgs...)
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}
	return b.String(), args
}
