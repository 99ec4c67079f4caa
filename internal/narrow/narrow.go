package narrow

import (
	"bytes"
	"encoding/json"
)

// Narrow is an ordered sequence of terms, combined by conjunction. Insertion
// order is significant: later scans over the terms resolve ties between
// mutually exclusive classifications by position.
type Narrow []Term

// wireTerm is the object wire shape of one term.
type wireTerm struct {
	Operator string          `json:"operator"`
	Operand  json.RawMessage `json:"operand"`
	Negated  bool            `json:"negated"`
}

// Parse decodes the wire JSON form of a narrow. Two shapes are accepted:
// a list of 2-element [operator, operand] arrays (legacy, no negation) and a
// list of {"operator":..., "operand":..., "negated":...} objects. An empty
// list decodes to a nil Narrow, meaning "no narrow" rather than an empty
// conjunction.
func Parse(raw []byte) (Narrow, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, &BadOperandError{Operator: "narrow", Operand: string(raw)}
	}
	if len(elements) == 0 {
		return nil, nil
	}

	terms := make(Narrow, 0, len(elements))
	for _, el := range elements {
		term, err := parseWireTerm(el)
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	return terms, nil
}

func parseWireTerm(raw json.RawMessage) (Term, error) {
	// Object shape first; fall back to the legacy array shape.
	var obj wireTerm
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Operator != "" {
		operand, err := decodeOperand(obj.Operand)
		if err != nil {
			return Term{}, err
		}
		return NewTerm(obj.Operator, operand, obj.Negated)
	}

	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
		return Term{}, &BadOperandError{Operator: "narrow", Operand: string(raw)}
	}
	var operator string
	if err := json.Unmarshal(pair[0], &operator); err != nil {
		return Term{}, &BadOperandError{Operator: "narrow", Operand: string(pair[0])}
	}
	operand, err := decodeOperand(pair[1])
	if err != nil {
		return Term{}, err
	}
	return NewTerm(operator, operand, false)
}

// decodeOperand decodes a raw operand value, keeping integers exact.
func decodeOperand(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, &BadOperandError{Operator: "narrow", Operand: "<missing>"}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &BadOperandError{Operator: "narrow", Operand: string(raw)}
	}
	return v, nil
}

// channelOperators address channel-type conversations.
func isChannelOperator(t Term) bool {
	switch t.Operator {
	case OpChannel, OpTopic, OpChannels:
		return true
	}
	return false
}

// dmOperators address direct-message conversations.
func isDMOperator(t Term) bool {
	switch t.Operator {
	case OpDM, OpDMIncluding, OpGroupDM:
		return true
	case OpIs:
		return t.Operand.Kind == OperandString && t.Operand.Str == "dm"
	}
	return false
}

// Validate rejects narrows that address both channel and direct-message
// conversations. It applies to every narrow regardless of context.
func (n Narrow) Validate() error {
	var channel, dm bool
	for _, t := range n {
		if isChannelOperator(t) {
			channel = true
		}
		if isDMOperator(t) {
			dm = true
		}
	}
	if channel && dm {
		return &CombinationError{Reason: "cannot combine channel and direct-message operators"}
	}
	return nil
}

// RequireConversation additionally rejects narrows that address neither kind
// of conversation. It applies only when the narrow is used to render a
// conversation view; plain search and listing contexts use Validate alone.
func (n Narrow) RequireConversation() error {
	if err := n.Validate(); err != nil {
		return err
	}
	for _, t := range n {
		if isChannelOperator(t) || isDMOperator(t) {
			return nil
		}
	}
	return &CombinationError{Reason: "narrow addresses neither a channel nor a direct-message conversation"}
}

// Simplify drops redundant terms: a non-negated "is:dm" is implied by any
// "dm" term and is removed when one is present.
func (n Narrow) Simplify() Narrow {
	hasDM := false
	for _, t := range n {
		if t.Operator == OpDM {
			hasDM = true
			break
		}
	}
	if !hasDM {
		return n
	}

	out := make(Narrow, 0, len(n))
	for _, t := range n {
		if t.Operator == OpIs && !t.Negated && t.Operand.Str == "dm" {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Find returns the first non-negated term with the given operator, if any.
func (n Narrow) Find(operator string) (Term, bool) {
	for _, t := range n {
		if t.Operator == operator && !t.Negated {
			return t, true
		}
	}
	return Term{}, false
}

// HasSearch reports whether any term is a search term.
func (n Narrow) HasSearch() bool {
	for _, t := range n {
		if t.Operator == OpSearch {
			return true
		}
	}
	return false
}
