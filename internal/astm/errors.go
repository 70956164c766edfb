package astm

import (
	"fmt"
)

// EscapingError is returned when field content contains a byte that can never
// be carried inside a field, such as a record separator.
type EscapingError struct {
	Text   string
	Offset int
}

func (e *EscapingError) Error() string {
	return fmt.Sprintf("astm: illegal control character %q at offset %d in field content", e.Text[e.Offset], e.Offset)
}

// MissingFieldError is returned when a required field is empty at generation.
type MissingFieldError struct {
	Record RecordType
	// Index is the position of the record within its type, starting at 1.
	Index int
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("astm: %s record %d: missing required field %s", e.Record.Name(), e.Index, e.Field)
}

// EmptyResultsError is returned when a message is generated without results.
type EmptyResultsError struct{}

func (e *EmptyResultsError) Error() string {
	return "astm: message must carry at least one result"
}

// ErrEmptyResults is the EmptyResultsError returned by the generator.
var ErrEmptyResults error = &EmptyResultsError{}

// ParseErrorKind classifies a ParseError
type ParseErrorKind int

const (
	UnsupportedType ParseErrorKind = iota + 1
	TooFewFields
	MissingHeader
	MissingTerminator
	UnexpectedRecord
	MalformedFrame
	EmptyRecord
)

func (k ParseErrorKind) String() string {
	switch k {
	case UnsupportedType:
		return "unsupported record type"
	case TooFewFields:
		return "too few fields"
	case MissingHeader:
		return "missing header"
	case MissingTerminator:
		return "missing terminator"
	case UnexpectedRecord:
		return "unexpected record"
	case MalformedFrame:
		return "malformed frame"
	case EmptyRecord:
		return "empty record"
	default:
		return fmt.Sprintf("ParseErrorKind(%d)", int(k))
	}
}

// ParseError is returned when inbound text cannot be decoded.
type ParseError struct {
	Kind ParseErrorKind
	// Line is the 1-based record line the error refers to, 0 when unknown.
	Line   int
	Detail string
}

func (e *ParseError) Error() string {
	msg := "astm: " + e.Kind.String()
	if e.Line > 0 {
		msg = fmt.Sprintf("%s at line %d", msg, e.Line)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is matches any ParseError of the same kind, so callers can test with
// errors.Is(err, &ParseError{Kind: MissingTerminator}).
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// ChecksumMismatchError is returned when a framed message carries a checksum
// that does not match its content.
type ChecksumMismatchError struct {
	Want string
	Got  string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("astm: checksum mismatch: frame carries %s, computed %s", e.Got, e.Want)
}
