package narrow

import "strings"

// Per-user message flag bits, as stored in the delivery row's flags bitfield.
const (
	FlagRead      int64 = 1 << 0
	FlagStarred   int64 = 1 << 1
	FlagMentioned int64 = 1 << 3
	FlagAlerted   int64 = 1 << 4
	FlagFollowed  int64 = 1 << 12
)

// ResolvedTopicPrefix marks a resolved topic. A topic is resolved exactly
// when its name begins with this prefix.
const ResolvedTopicPrefix = "✔ "

// EventMessage is the minimal view of a single already-known message needed
// to test it against a narrow without touching storage.
type EventMessage struct {
	ChannelName string // empty for direct messages
	Topic       string
	SenderID    int64
	IsDM        bool
}

// eventIsOperands is the restricted "is" subset the storage-free matcher
// supports. Flag-independent properties of messages never delivered to the
// user (resolved, followed) are excluded.
var eventIsOperands = map[string]bool{
	"dm":        true,
	"starred":   true,
	"unread":    true,
	"mentioned": true,
	"alerted":   true,
}

// MatchesMessage tests one message against a narrow without storage access.
// It is used for real-time event delivery decisions and supports only the
// operators that can be decided from an EventMessage plus the user's flags:
// channel, topic, sender, and a restricted "is" subset. Any other operator
// returns UnknownOperatorError.
func MatchesMessage(terms Narrow, msg EventMessage, userFlags int64) (bool, error) {
	for _, t := range terms {
		matched, err := termMatches(t, msg, userFlags)
		if err != nil {
			return false, err
		}
		if matched == t.Negated {
			return false, nil
		}
	}
	return true, nil
}

func termMatches(t Term, msg EventMessage, userFlags int64) (bool, error) {
	switch t.Operator {
	case OpChannel:
		if t.Operand.Kind != OperandString {
			return false, &BadOperandError{Operator: t.Operator, Operand: t.Operand.display()}
		}
		return !msg.IsDM && strings.EqualFold(msg.ChannelName, t.Operand.Str), nil

	case OpTopic:
		if t.Operand.Kind != OperandString {
			return false, &BadOperandError{Operator: t.Operator, Operand: t.Operand.display()}
		}
		return !msg.IsDM && strings.EqualFold(msg.Topic, t.Operand.Str), nil

	case OpSender:
		if t.Operand.Kind != OperandInt {
			return false, &BadOperandError{Operator: t.Operator, Operand: t.Operand.display()}
		}
		return msg.SenderID == t.Operand.Int, nil

	case OpIs:
		op := t.Operand.Str
		if !eventIsOperands[op] {
			return false, &BadOperandError{Operator: t.Operator, Operand: op}
		}
		switch op {
		case "dm":
			return msg.IsDM, nil
		case "starred":
			return userFlags&FlagStarred != 0, nil
		case "unread":
			return userFlags&FlagRead == 0, nil
		case "mentioned":
			return userFlags&FlagMentioned != 0, nil
		case "alerted":
			return userFlags&FlagAlerted != 0, nil
		}
		return false, nil

	default:
		return false, &UnknownOperatorError{Operator: t.Operator}
	}
}
