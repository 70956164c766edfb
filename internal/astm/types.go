// Package astm encodes and decodes ASTM E1394-97 messages exchanged with
// laboratory instruments and information systems.
//
// A message is an ordered list of records: one header (H), an optional
// patient (P) and order (O), one or more results (R), any number of
// comments (C) and one terminator (L). Every record type has a fixed
// arity so that two messages carrying the same record type always have
// the same number of field delimiters.
package astm

import (
	"fmt"
)

// ASTM E1394 delimiters
const (
	FieldDelimiter     = '|'
	RepeatDelimiter    = '\\'
	ComponentDelimiter = '^'
	EscapeDelimiter    = '&'
	RecordSeparator    = '\r'
)

// DelimiterDefinition is the literal content of the header's second slot.
const DelimiterDefinition = `\^&`

// Default header values
const (
	DefaultSenderID     = "IVD_DEVICE"
	DefaultVersion      = "E1394-97"
	DefaultProcessingID = "P"
	versionNumber       = "1"
)

// Timestamp layouts used in date and date/time fields
const (
	TimestampLayout = "20060102150405"
	DateLayout      = "20060102"
)

// RecordType identifies an ASTM record by its leading character
type RecordType byte

const (
	RecordHeader     RecordType = 'H'
	RecordPatient    RecordType = 'P'
	RecordOrder      RecordType = 'O'
	RecordResult     RecordType = 'R'
	RecordComment    RecordType = 'C'
	RecordTerminator RecordType = 'L'
)

// RecordTypes lists the supported record types in message order.
var RecordTypes = []RecordType{
	RecordHeader,
	RecordPatient,
	RecordOrder,
	RecordResult,
	RecordComment,
	RecordTerminator,
}

// layout describes the positional schema of a record type. Indices count
// the record-type character as slot 0.
type layout struct {
	name string
	// minIndex is the highest slot a decoded line must reach.
	minIndex int
	// maxIndex is the highest slot rendered on encode.
	maxIndex int
}

var layouts = map[RecordType]layout{
	RecordHeader:     {name: "header", minIndex: 1, maxIndex: 13},
	RecordPatient:    {name: "patient", minIndex: 2, maxIndex: 34},
	RecordOrder:      {name: "order", minIndex: 4, maxIndex: 26},
	RecordResult:     {name: "result", minIndex: 3, maxIndex: 13},
	RecordComment:    {name: "comment", minIndex: 3, maxIndex: 4},
	RecordTerminator: {name: "terminator", minIndex: 1, maxIndex: 2},
}

// Valid reports whether t is one of the supported record types.
func (t RecordType) Valid() bool {
	_, ok := layouts[t]
	return ok
}

// MaxIndex returns the highest field index rendered for t.
func (t RecordType) MaxIndex() int {
	return layouts[t].maxIndex
}

// MinIndex returns the highest field index a decoded line of type t must reach.
func (t RecordType) MinIndex() int {
	return layouts[t].minIndex
}

// Name returns the human readable record name.
func (t RecordType) Name() string {
	if l, ok := layouts[t]; ok {
		return l.name
	}
	return "unknown"
}

func (t RecordType) String() string {
	if t.Valid() {
		return string(rune(t))
	}
	return fmt.Sprintf("RecordType(%q)", rune(t))
}

// Header field indices
const (
	headerDelimiters    = 1
	headerControlID     = 2
	headerSender        = 4
	headerReceiver      = 9
	headerProcessingID  = 11
	headerVersionNumber = 12
	headerTimestamp     = 13
)

// Patient field indices
const (
	patientID      = 2
	patientLabID   = 3
	patientName    = 5
	patientDOB     = 7
	patientGender  = 8
	patientAddress = 10
	patientPhone   = 12
)

// Order field indices
const (
	orderSpecimenID           = 2
	orderInstrumentSpecimenID = 3
	orderTestID               = 4
	orderPriority             = 5
	orderRequestedAt          = 6
	orderCollectedAt          = 7
	orderProvider             = 16
	orderReportType           = 25
)

// Result field indices
const (
	resultTestID         = 2
	resultValue          = 3
	resultUnits          = 4
	resultReferenceRange = 5
	resultAbnormalFlag   = 6
	resultStatus         = 8
	resultOperatorID     = 10
	resultResultedAt     = 12
)

// Comment field indices
const (
	commentSource = 2
	commentText   = 3
	commentType   = 4
)

// Terminator field indices
const (
	terminatorCode = 2
)

// Universal test identifier components: ^^^code^name
const (
	testIDCode = 3
	testIDName = 4
)
