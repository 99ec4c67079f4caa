// Package narrow defines the parsed, canonicalized representation of message
// narrows: conjunctive filter expressions over a message stream. A narrow is
// an ordered sequence of terms, each an (operator, operand, negated) triple.
// The package owns wire decoding, operand validation, synonym resolution, and
// a storage-free matcher used for real-time event delivery decisions.
package narrow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Canonical operator names. Everything else the wire can carry is a synonym
// that canonicalizes onto one of these before validation.
const (
	OpChannel     = "channel"
	OpChannels    = "channels"
	OpTopic       = "topic"
	OpSender      = "sender"
	OpDM          = "dm"
	OpDMIncluding = "dm-including"
	OpGroupDM     = "group-dm"
	OpID          = "id"
	OpNear        = "near"
	OpIn          = "in"
	OpIs          = "is"
	OpHas         = "has"
	OpSearch      = "search"
)

// synonyms maps legacy operator names to their canonical form. Lookup is
// case-insensitive on the wire name.
var synonyms = map[string]string{
	"stream":        OpChannel,
	"streams":       OpChannels,
	"pm-with":       OpDM,
	"group-pm-with": OpGroupDM,
	"from":          OpSender,
}

// OperandKind discriminates the runtime type of a canonicalized operand.
type OperandKind int

const (
	OperandString OperandKind = iota
	OperandInt
	OperandIntList
)

// Operand is the canonicalized operand of a term. Exactly one of the value
// fields is meaningful, selected by Kind.
type Operand struct {
	Kind OperandKind
	Str  string
	Int  int64
	Ints []int64
}

// StringOperand returns a string operand.
func StringOperand(s string) Operand { return Operand{Kind: OperandString, Str: s} }

// IntOperand returns an integer operand.
func IntOperand(n int64) Operand { return Operand{Kind: OperandInt, Int: n} }

// IntListOperand returns a list-of-integers operand.
func IntListOperand(ns []int64) Operand { return Operand{Kind: OperandIntList, Ints: ns} }

// display renders an operand for error messages.
func (o Operand) display() string {
	switch o.Kind {
	case OperandInt:
		return strconv.FormatInt(o.Int, 10)
	case OperandIntList:
		parts := make([]string, len(o.Ints))
		for i, n := range o.Ints {
			parts[i] = strconv.FormatInt(n, 10)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return o.Str
	}
}

// Term is one canonicalized narrow clause. Immutable after construction.
type Term struct {
	Operator string
	Operand  Operand
	Negated  bool
}

// validIsOperands is the closed set accepted for the "is" operator.
// "private" is a legacy alias for "dm" and is rewritten before this check.
var validIsOperands = map[string]bool{
	"dm":        true,
	"starred":   true,
	"unread":    true,
	"mentioned": true,
	"alerted":   true,
	"resolved":  true,
	"followed":  true,
}

// validHasOperands is the closed set accepted for the "has" operator, in
// singular form (a trailing "s" on the wire operand is stripped first).
var validHasOperands = map[string]bool{
	"attachment": true,
	"image":      true,
	"link":       true,
	"reaction":   true,
}

// NewTerm canonicalizes a raw (operator, operand, negated) triple into a
// Term. The operator is lower-cased and resolved through the synonym table;
// the operand is validated and coerced to the exact type its operator
// requires. rawOperand may be a string, a json.Number, an int/int64/float64,
// or a slice of any of the numeric forms.
func NewTerm(operator string, rawOperand any, negated bool) (Term, error) {
	op := strings.ToLower(operator)
	if canonical, ok := synonyms[op]; ok {
		op = canonical
	}

	operand, err := canonicalizeOperand(op, rawOperand)
	if err != nil {
		return Term{}, err
	}
	return Term{Operator: op, Operand: operand, Negated: negated}, nil
}

// canonicalizeOperand validates rawOperand against the operator's required
// type and returns the coerced Operand.
func canonicalizeOperand(op string, raw any) (Operand, error) {
	badOperand := func() error {
		return &BadOperandError{Operator: op, Operand: fmt.Sprintf("%v", raw)}
	}

	switch op {
	case OpChannel, OpSender, OpDMIncluding, OpGroupDM:
		// Name/email or numeric ID.
		if n, ok := asInt(raw); ok {
			return IntOperand(n), nil
		}
		if s, ok := raw.(string); ok {
			return StringOperand(s), nil
		}
		return Operand{}, badOperand()

	case OpID, OpNear:
		// Non-negative integer; digit strings accepted.
		n, ok := asInt(raw)
		if !ok {
			if s, isStr := raw.(string); isStr {
				parsed, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
				if err != nil {
					return Operand{}, &InvalidMessageIDError{Raw: s}
				}
				n, ok = parsed, true
			}
		}
		if !ok || n < 0 {
			return Operand{}, &InvalidMessageIDError{Raw: fmt.Sprintf("%v", raw)}
		}
		return IntOperand(n), nil

	case OpDM:
		// Comma-separated email list, or a list of user IDs.
		if s, ok := raw.(string); ok {
			return StringOperand(s), nil
		}
		if ids, ok := asIntList(raw); ok {
			return IntListOperand(ids), nil
		}
		return Operand{}, badOperand()

	case OpSearch:
		s, ok := raw.(string)
		if !ok || s == "" {
			return Operand{}, badOperand()
		}
		return StringOperand(s), nil

	case OpHas:
		s, ok := raw.(string)
		if !ok {
			return Operand{}, badOperand()
		}
		s = strings.TrimSuffix(strings.ToLower(s), "s")
		if !validHasOperands[s] {
			return Operand{}, badOperand()
		}
		return StringOperand(s), nil

	case OpIs:
		s, ok := raw.(string)
		if !ok {
			return Operand{}, badOperand()
		}
		s = strings.ToLower(s)
		if s == "private" {
			s = "dm"
		}
		if !validIsOperands[s] {
			return Operand{}, badOperand()
		}
		return StringOperand(s), nil

	case OpChannels:
		s, ok := raw.(string)
		if !ok || (s != "public" && s != "web-public") {
			return Operand{}, badOperand()
		}
		return StringOperand(s), nil

	case OpIn:
		s, ok := raw.(string)
		if !ok || (s != "home" && s != "all") {
			return Operand{}, badOperand()
		}
		return StringOperand(s), nil

	case OpTopic:
		if s, ok := raw.(string); ok {
			return StringOperand(s), nil
		}
		return Operand{}, badOperand()

	default:
		return Operand{}, &UnknownOperatorError{Operator: op}
	}
}

// asInt coerces the numeric shapes JSON decoding can produce into an int64.
// Floats with a fractional part are rejected.
func asInt(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// asIntList coerces a decoded JSON array of numbers into []int64. Internal
// callers may pass []int64 or []int directly.
func asIntList(raw any) ([]int64, bool) {
	switch v := raw.(type) {
	case []int64:
		return v, true
	case []int:
		ids := make([]int64, len(v))
		for i, n := range v {
			ids[i] = int64(n)
		}
		return ids, true
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	ids := make([]int64, 0, len(list))
	for _, el := range list {
		n, ok := asInt(el)
		if !ok {
			return nil, false
		}
		ids = append(ids, n)
	}
	return ids, true
}
