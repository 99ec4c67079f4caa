package narrow

import "fmt"

// RequestError is implemented by every user-facing error this package and the
// query engine can return. Code is a stable machine-readable identifier that
// the API layer maps onto the wire; Error() carries the human message.
type RequestError interface {
	error
	Code() string
}

// BadOperandError reports an operand that fails type or shape validation for
// its operator.
type BadOperandError struct {
	Operator string
	Operand  string // textual rendering of the offending operand
}

func (e *BadOperandError) Error() string {
	return fmt.Sprintf("invalid narrow operand %q for operator %q", e.Operand, e.Operator)
}

func (e *BadOperandError) Code() string { return "BAD_NARROW" }

// UnknownOperatorError reports an operator string that is not recognized
// after synonym resolution.
type UnknownOperatorError struct {
	Operator string
}

func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("unknown narrow operator %q", e.Operator)
}

func (e *UnknownOperatorError) Code() string { return "BAD_NARROW" }

// UnknownChannelError reports a channel that does not exist or is not
// accessible. The wording is deliberately identical for both cases so callers
// cannot probe for the existence of channels they may not see.
type UnknownChannelError struct{}

func (e *UnknownChannelError) Error() string { return "invalid channel operand for narrow" }

func (e *UnknownChannelError) Code() string { return "CHANNEL_DOES_NOT_EXIST" }

// UnknownUserError reports a user that does not exist or is not resolvable in
// context. Same non-distinguishing wording policy as UnknownChannelError.
type UnknownUserError struct{}

func (e *UnknownUserError) Error() string { return "invalid user operand for narrow" }

func (e *UnknownUserError) Code() string { return "USER_DOES_NOT_EXIST" }

// CombinationError reports a structurally contradictory narrow, such as one
// that addresses both channel and direct-message conversations.
type CombinationError struct {
	Reason string
}

func (e *CombinationError) Error() string {
	return fmt.Sprintf("invalid narrow operator combination: %s", e.Reason)
}

func (e *CombinationError) Code() string { return "BAD_NARROW" }

// InvalidMessageIDError reports a malformed message-id operand.
type InvalidMessageIDError struct {
	Raw string
}

func (e *InvalidMessageIDError) Error() string {
	return fmt.Sprintf("invalid message id %q", e.Raw)
}

func (e *InvalidMessageIDError) Code() string { return "BAD_REQUEST" }

// InvalidAnchorError reports an anchor token that is neither numeric nor a
// recognized keyword.
type InvalidAnchorError struct {
	Raw string
}

func (e *InvalidAnchorError) Error() string { return fmt.Sprintf("invalid anchor %q", e.Raw) }

func (e *InvalidAnchorError) Code() string { return "BAD_REQUEST" }

// MissingArgumentError reports an absent required request argument.
type MissingArgumentError struct {
	Name string
}

func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("missing required argument %q", e.Name)
}

func (e *MissingArgumentError) Code() string { return "REQUEST_VARIABLE_MISSING" }

// TooManyMessagesError reports a request whose combined window size exceeds
// the configured ceiling.
type TooManyMessagesError struct {
	Requested int
	Max       int
}

func (e *TooManyMessagesError) Error() string {
	return fmt.Sprintf("requested %d messages, limit is %d", e.Requested, e.Max)
}

func (e *TooManyMessagesError) Code() string { return "TOO_MANY_MESSAGES" }
