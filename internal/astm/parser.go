package astm

import (
	"fmt"
	"strings"
)

// ParsedMessage is a decoded message. Records keep their arrival order both
// overall and per type. A ParsedMessage is never mutated after Parse returns.
type ParsedMessage struct {
	records []Record
	byType  map[RecordType][]Record
	framed  bool
}

// Records returns every record in arrival order.
func (m *ParsedMessage) Records() []Record {
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// RecordsOf returns the records of type t in arrival order.
func (m *ParsedMessage) RecordsOf(t RecordType) []Record {
	src := m.byType[t]
	out := make([]Record, len(src))
	copy(out, src)
	return out
}

// Count returns the number of records of type t.
func (m *ParsedMessage) Count(t RecordType) int {
	return len(m.byType[t])
}

// Counts returns the number of records per type character.
func (m *ParsedMessage) Counts() map[string]int {
	return CountRecords(m.records)
}

// Header returns the message header.
func (m *ParsedMessage) Header() *Header {
	return m.records[0].(*Header)
}

// Terminator returns the message terminator.
func (m *ParsedMessage) Terminator() *Terminator {
	return m.records[len(m.records)-1].(*Terminator)
}

// Framed reports whether the input carried the STX/ETX envelope.
func (m *ParsedMessage) Framed() bool {
	return m.framed
}

// Text re-renders the message with CR between records.
func (m *ParsedMessage) Text() string {
	lines := make([]string, len(m.records))
	for i, r := range m.records {
		lines[i] = r.Encode()
	}
	return strings.Join(lines, string(RecordSeparator))
}

// Parse decodes a message from raw bytes. Input starting with STX is
// unframed and its checksum verified first. Parse either returns a complete
// message or an error; malformed records are never skipped.
func Parse(data []byte) (*ParsedMessage, error) {
	framed := len(data) > 0 && data[0] == STX

	var text string
	if framed {
		t, err := Unframe(data)
		if err != nil {
			return nil, err
		}
		text = stripFrameNumber(t)
	} else {
		text = string(data)
	}

	m, err := parseText(text)
	if err != nil {
		return nil, err
	}
	m.framed = framed
	return m, nil
}

// ParseString decodes a message from text. See Parse.
func ParseString(s string) (*ParsedMessage, error) {
	return Parse([]byte(s))
}

func parseText(text string) (*ParsedMessage, error) {
	// Normalize line endings
	text = strings.ReplaceAll(text, "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	lines := strings.Split(text, string(RecordSeparator))

	m := &ParsedMessage{
		byType: make(map[RecordType][]Record),
	}
	terminated := false
	last := 0

	for i, line := range lines {
		lineNo := i + 1
		if line == "" {
			// a message may end with a record separator
			if i == len(lines)-1 {
				continue
			}
			return nil, &ParseError{Kind: EmptyRecord, Line: lineNo}
		}
		last = lineNo

		r, err := DecodeRecord(line)
		if err != nil {
			if pe, ok := err.(*ParseError); ok {
				pe.Line = lineNo
			}
			return nil, err
		}

		if terminated {
			return nil, &ParseError{Kind: UnexpectedRecord, Line: lineNo, Detail: fmt.Sprintf("%s record after terminator", r.Type().Name())}
		}

		t := r.Type()
		switch {
		case len(m.records) == 0 && t != RecordHeader:
			return nil, &ParseError{Kind: MissingHeader, Line: lineNo, Detail: fmt.Sprintf("first record is %s", t.Name())}
		case len(m.records) > 0 && t == RecordHeader:
			return nil, &ParseError{Kind: MissingTerminator, Line: lineNo, Detail: "header received before terminator"}
		case t == RecordTerminator:
			terminated = true
		}

		m.records = append(m.records, r)
		m.byType[t] = append(m.byType[t], r)
	}

	if len(m.records) == 0 {
		return nil, &ParseError{Kind: MissingHeader, Detail: "message is empty"}
	}
	if !terminated {
		return nil, &ParseError{Kind: MissingTerminator, Line: last + 1}
	}

	return m, nil
}

// stripFrameNumber drops the E1381 frame number instruments place between
// STX and the first record.
func stripFrameNumber(text string) string {
	if len(text) > 1 && text[0] >= '0' && text[0] <= '7' && RecordType(text[1]).Valid() {
		return text[1:]
	}
	return text
}
