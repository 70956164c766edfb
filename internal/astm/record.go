package astm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/savegress/labsync/pkg/models"
)

// Record is one line of an ASTM message. The set of implementations is
// closed: *Header, *Patient, *Order, *Result, *Comment and *Terminator.
// Records are immutable once constructed.
type Record interface {
	// Type returns the record-type character.
	Type() RecordType
	// Sequence returns the record's sequence number; the header is always 1.
	Sequence() int
	// Field returns the raw (still escaped) text at index, or "" past the end.
	Field(index int) string
	// Fields returns a copy of every slot, slot 0 being the type character.
	Fields() []string
	// Encode renders the record line without a record separator.
	Encode() string

	slots() []string
}

type base struct {
	fields []string
}

func (b *base) Type() RecordType { return RecordType(b.fields[0][0]) }

func (b *base) Sequence() int {
	if b.Type() == RecordHeader {
		return 1
	}
	n, err := strconv.Atoi(b.Field(1))
	if err != nil {
		return 0
	}
	return n
}

func (b *base) Field(index int) string {
	if index < 0 || index >= len(b.fields) {
		return ""
	}
	return b.fields[index]
}

func (b *base) Fields() []string {
	out := make([]string, len(b.fields))
	copy(out, b.fields)
	return out
}

func (b *base) Encode() string {
	return strings.Join(b.fields, string(FieldDelimiter))
}

func (b *base) slots() []string { return b.fields }

// value returns the unescaped scalar at index.
func (b *base) value(index int) string {
	return Unescape(b.Field(index))
}

// component returns the unescaped n-th component of the field at index.
func (b *base) component(index, n int) string {
	parts := strings.Split(b.Field(index), string(ComponentDelimiter))
	if n >= len(parts) {
		return ""
	}
	return Unescape(parts[n])
}

// Header is the H record opening every message.
type Header struct{ base }

// Patient is the P record carrying demographics.
type Patient struct{ base }

// Order is the O record carrying a test request.
type Order struct{ base }

// Result is the R record carrying one measurement.
type Result struct{ base }

// Comment is the C record carrying free text.
type Comment struct{ base }

// Terminator is the L record closing every message.
type Terminator struct{ base }

func (h *Header) DelimiterDefinition() string { return h.Field(headerDelimiters) }
func (h *Header) ControlID() string           { return h.value(headerControlID) }
func (h *Header) SenderID() string            { return h.component(headerSender, 0) }
func (h *Header) Version() string             { return h.component(headerSender, 1) }
func (h *Header) ReceiverID() string          { return h.value(headerReceiver) }
func (h *Header) ProcessingID() string        { return h.value(headerProcessingID) }
func (h *Header) Timestamp() string           { return h.value(headerTimestamp) }

// Info maps the header to its domain structure.
func (h *Header) Info() models.HeaderInfo {
	return models.HeaderInfo{
		SenderID:     h.SenderID(),
		Version:      h.Version(),
		ReceiverID:   h.ReceiverID(),
		ProcessingID: h.ProcessingID(),
		Timestamp:    h.Timestamp(),
	}
}

func (p *Patient) PatientID() string { return p.value(patientID) }

// Info maps the patient record to its domain structure.
func (p *Patient) Info() models.PatientInfo {
	return models.PatientInfo{
		PatientID:    p.value(patientID),
		LabPatientID: p.value(patientLabID),
		LastName:     p.component(patientName, 0),
		FirstName:    p.component(patientName, 1),
		MiddleName:   p.component(patientName, 2),
		DOB:          p.value(patientDOB),
		Gender:       p.value(patientGender),
		Street:       p.component(patientAddress, 0),
		City:         p.component(patientAddress, 2),
		State:        p.component(patientAddress, 3),
		Zip:          p.component(patientAddress, 4),
		Phone:        p.value(patientPhone),
	}
}

func (o *Order) SpecimenID() string { return o.value(orderSpecimenID) }
func (o *Order) TestCode() string   { return o.component(orderTestID, testIDCode) }

// Info maps the order record to its domain structure.
func (o *Order) Info() models.OrderInfo {
	return models.OrderInfo{
		SpecimenID:           o.value(orderSpecimenID),
		InstrumentSpecimenID: o.value(orderInstrumentSpecimenID),
		TestCode:             o.component(orderTestID, testIDCode),
		TestName:             o.component(orderTestID, testIDName),
		Priority:             o.value(orderPriority),
		RequestedAt:          o.value(orderRequestedAt),
		CollectedAt:          o.value(orderCollectedAt),
		Provider:             o.value(orderProvider),
		ReportType:           o.value(orderReportType),
	}
}

func (r *Result) TestCode() string { return r.component(resultTestID, testIDCode) }
func (r *Result) Value() string    { return r.value(resultValue) }

// Info maps the result record to its domain structure.
func (r *Result) Info() models.ResultInfo {
	return models.ResultInfo{
		TestCode:       r.component(resultTestID, testIDCode),
		TestName:       r.component(resultTestID, testIDName),
		Value:          r.value(resultValue),
		Units:          r.value(resultUnits),
		ReferenceRange: r.value(resultReferenceRange),
		AbnormalFlag:   r.value(resultAbnormalFlag),
		ResultStatus:   r.value(resultStatus),
		OperatorID:     r.value(resultOperatorID),
		ResultedAt:     r.value(resultResultedAt),
	}
}

func (c *Comment) Text() string { return c.value(commentText) }

// Info maps the comment record to its domain structure.
func (c *Comment) Info() models.CommentInfo {
	return models.CommentInfo{
		Source: c.value(commentSource),
		Text:   c.value(commentText),
		Type:   c.value(commentType),
	}
}

// Code returns the termination code (N, Q, I, ...).
func (t *Terminator) Code() string { return t.value(terminatorCode) }

// Fields maps field indices to raw field text for EncodeRecord and NewRecord.
// Values must already be escaped; indices 0 and 1 are owned by the codec.
type Fields map[int]string

// NewRecord builds a record of type t with sequence seq from raw field text.
// The result is padded to the type's maximum index. The header ignores seq
// and carries the delimiter definition in slot 1.
func NewRecord(t RecordType, seq int, fields Fields) (Record, error) {
	if !t.Valid() {
		return nil, &ParseError{Kind: UnsupportedType, Detail: fmt.Sprintf("%q", rune(t))}
	}

	size := t.MaxIndex() + 1
	indices := make([]int, 0, len(fields))
	for i := range fields {
		if i < 2 {
			return nil, fmt.Errorf("astm: field index %d is reserved", i)
		}
		indices = append(indices, i)
	}
	sort.Ints(indices)
	if n := len(indices); n > 0 && indices[n-1] >= size {
		size = indices[n-1] + 1
	}

	slots := make([]string, size)
	slots[0] = string(rune(t))
	if t == RecordHeader {
		slots[1] = DelimiterDefinition
	} else {
		slots[1] = strconv.Itoa(seq)
	}
	for _, i := range indices {
		v := fields[i]
		if j := strings.IndexAny(v, "\r\n|"); j >= 0 {
			return nil, &EscapingError{Text: v, Offset: j}
		}
		slots[i] = v
	}

	return wrap(slots), nil
}

// EncodeRecord renders a single record line. See NewRecord.
func EncodeRecord(t RecordType, seq int, fields Fields) (string, error) {
	r, err := NewRecord(t, seq, fields)
	if err != nil {
		return "", err
	}
	return r.Encode(), nil
}

// DecodeRecord splits one record line on the field delimiter and returns the
// typed record. A trailing record separator is ignored. Decoded records are
// padded to their type's maximum index; slots beyond it are preserved.
func DecodeRecord(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Split(line, string(FieldDelimiter))

	if len(fields[0]) != 1 || !RecordType(fields[0][0]).Valid() {
		return nil, &ParseError{Kind: UnsupportedType, Detail: fmt.Sprintf("record type %q", fields[0])}
	}
	t := RecordType(fields[0][0])

	if len(fields)-1 < t.MinIndex() {
		return nil, &ParseError{
			Kind:   TooFewFields,
			Detail: fmt.Sprintf("%s record has %d fields, need %d", t.Name(), len(fields)-1, t.MinIndex()),
		}
	}

	if size := t.MaxIndex() + 1; len(fields) < size {
		padded := make([]string, size)
		copy(padded, fields)
		fields = padded
	}

	return wrap(fields), nil
}

func wrap(slots []string) Record {
	b := base{fields: slots}
	switch RecordType(slots[0][0]) {
	case RecordHeader:
		return &Header{b}
	case RecordPatient:
		return &Patient{b}
	case RecordOrder:
		return &Order{b}
	case RecordResult:
		return &Result{b}
	case RecordComment:
		return &Comment{b}
	case RecordTerminator:
		return &Terminator{b}
	}
	panic(fmt.Sprintf("astm: unsupported record type %q", slots[0]))
}

// CountRecords returns the number of records per type character.
func CountRecords(records []Record) map[string]int {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.Type().String()]++
	}
	return counts
}
