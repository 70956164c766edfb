package astm

import (
	"strings"
	"time"

	"github.com/savegress/labsync/pkg/models"
)

// Line endings placed between records
const (
	LineEndingCR   = "\r"
	LineEndingCRLF = "\r\n"
)

// GeneratorConfig holds generator configuration
type GeneratorConfig struct {
	// SenderID is used when a request carries none.
	SenderID string
	Version  string
	// LineEnding separates records, LineEndingCR unless set.
	LineEnding string
	// FillDefaults applies instrument defaults to empty optional fields:
	// gender U, priority R, report type F, result status F, comment source
	// I and type G, and the message timestamp for order and result times.
	FillDefaults bool
	// Now overrides the clock used when a request has no timestamp.
	Now func() time.Time
}

// Generator builds ASTM messages from domain structures. It holds only
// configuration and is safe for concurrent use.
type Generator struct {
	senderID     string
	version      string
	lineEnding   string
	fillDefaults bool
	now          func() time.Time
}

// NewGenerator creates a new ASTM message generator
func NewGenerator(config *GeneratorConfig) *Generator {
	g := &Generator{
		senderID:   DefaultSenderID,
		version:    DefaultVersion,
		lineEnding: LineEndingCR,
		now:        time.Now,
	}
	if config == nil {
		return g
	}
	if config.SenderID != "" {
		g.senderID = config.SenderID
	}
	if config.Version != "" {
		g.version = config.Version
	}
	if config.LineEnding != "" {
		g.lineEnding = config.LineEnding
	}
	if config.Now != nil {
		g.now = config.Now
	}
	g.fillDefaults = config.FillDefaults
	return g
}

// Request is the input of one Generate call
type Request struct {
	Patient  *models.PatientInfo
	Order    *models.OrderInfo
	Results  []models.ResultInfo
	Comments []models.CommentInfo

	SenderID     string
	ReceiverID   string
	ProcessingID string
	// Timestamp is the message time; the generator clock is used when zero.
	Timestamp time.Time
	// TerminationCode defaults to N.
	TerminationCode string
}

// Generate renders a complete message: header, optional patient and order,
// every result and comment in input order, and the terminator.
func (g *Generator) Generate(req *Request) (string, error) {
	records, err := g.Records(req)
	if err != nil {
		return "", err
	}
	return g.Render(records), nil
}

// Render joins encoded records with the configured line ending.
func (g *Generator) Render(records []Record) string {
	lines := make([]string, len(records))
	for i, r := range records {
		lines[i] = r.Encode()
	}
	return strings.Join(lines, g.lineEnding)
}

// GenerateFramed renders the message and wraps it with Frame.
func (g *Generator) GenerateFramed(req *Request) ([]byte, error) {
	text, err := g.Generate(req)
	if err != nil {
		return nil, err
	}
	return Frame(text), nil
}

// Records builds the ordered record list Generate renders.
func (g *Generator) Records(req *Request) ([]Record, error) {
	if len(req.Results) == 0 {
		return nil, ErrEmptyResults
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = g.now()
	}
	stamp := ts.Format(TimestampLayout)

	records := make([]Record, 0, len(req.Results)+len(req.Comments)+4)
	add := func(r Record, err error) error {
		if err != nil {
			return err
		}
		records = append(records, r)
		return nil
	}

	if err := add(g.header(req, stamp)); err != nil {
		return nil, err
	}
	if req.Patient != nil {
		if err := add(g.patient(req.Patient)); err != nil {
			return nil, err
		}
	}
	if req.Order != nil {
		if err := add(g.order(req.Order, stamp)); err != nil {
			return nil, err
		}
	}
	for i := range req.Results {
		if err := add(g.result(i+1, &req.Results[i], stamp)); err != nil {
			return nil, err
		}
	}
	for i := range req.Comments {
		if err := add(g.comment(i+1, &req.Comments[i])); err != nil {
			return nil, err
		}
	}
	if err := add(g.terminator(req.TerminationCode)); err != nil {
		return nil, err
	}

	return records, nil
}

// GenerateSimple renders a one-result message in the shape instruments send
// for a single test. patientName is "First Last".
func (g *Generator) GenerateSimple(patientID, patientName, sampleID, testCode, testName, value, units, referenceRange, abnormalFlag string) (string, error) {
	var first, last string
	if parts := strings.Fields(patientName); len(parts) > 0 {
		first = parts[0]
		if len(parts) > 1 {
			last = parts[len(parts)-1]
		}
	}

	return g.Generate(&Request{
		Patient: &models.PatientInfo{
			PatientID: patientID,
			FirstName: first,
			LastName:  last,
			Gender:    models.GenderUnknown,
		},
		Order: &models.OrderInfo{
			SpecimenID: sampleID,
			TestCode:   testCode,
			TestName:   testName,
			Priority:   models.PriorityRoutine,
			ReportType: models.StatusFinal,
		},
		Results: []models.ResultInfo{{
			TestCode:       testCode,
			TestName:       testName,
			Value:          value,
			Units:          units,
			ReferenceRange: referenceRange,
			AbnormalFlag:   abnormalFlag,
			ResultStatus:   models.StatusFinal,
		}},
	})
}

func (g *Generator) header(req *Request, stamp string) (Record, error) {
	sender := req.SenderID
	if sender == "" {
		sender = g.senderID
	}
	processing := req.ProcessingID
	if processing == "" {
		processing = DefaultProcessingID
	}

	var w fieldWriter
	fields := Fields{
		headerSender:        w.components(sender, g.version),
		headerReceiver:      w.text(req.ReceiverID),
		headerProcessingID:  w.text(processing),
		headerVersionNumber: versionNumber,
		headerTimestamp:     stamp,
	}
	if w.err != nil {
		return nil, w.err
	}
	return NewRecord(RecordHeader, 1, fields)
}

func (g *Generator) patient(p *models.PatientInfo) (Record, error) {
	if p.PatientID == "" {
		return nil, &MissingFieldError{Record: RecordPatient, Index: 1, Field: "patient id"}
	}

	gender := p.Gender
	if gender == "" && g.fillDefaults {
		gender = models.GenderUnknown
	}

	var w fieldWriter
	fields := Fields{
		patientID:      w.text(p.PatientID),
		patientLabID:   w.text(p.LabPatientID),
		patientName:    w.components(p.LastName, p.FirstName, p.MiddleName),
		patientDOB:     w.text(p.DOB),
		patientGender:  w.text(gender),
		patientAddress: w.components(p.Street, "", p.City, p.State, p.Zip),
		patientPhone:   w.text(p.Phone),
	}
	if w.err != nil {
		return nil, w.err
	}
	return NewRecord(RecordPatient, 1, fields)
}

func (g *Generator) order(o *models.OrderInfo, stamp string) (Record, error) {
	if o.SpecimenID == "" {
		return nil, &MissingFieldError{Record: RecordOrder, Index: 1, Field: "specimen id"}
	}
	if o.TestCode == "" {
		return nil, &MissingFieldError{Record: RecordOrder, Index: 1, Field: "test code"}
	}

	priority, requested, report := o.Priority, o.RequestedAt, o.ReportType
	if g.fillDefaults {
		priority = orDefault(priority, models.PriorityRoutine)
		requested = orDefault(requested, stamp)
		report = orDefault(report, models.StatusFinal)
	}

	var w fieldWriter
	fields := Fields{
		orderSpecimenID:           w.text(o.SpecimenID),
		orderInstrumentSpecimenID: w.text(o.InstrumentSpecimenID),
		orderTestID:               w.testID(o.TestCode, o.TestName),
		orderPriority:             w.text(priority),
		orderRequestedAt:          w.text(requested),
		orderCollectedAt:          w.text(o.CollectedAt),
		orderProvider:             w.text(o.Provider),
		orderReportType:           w.text(report),
	}
	if w.err != nil {
		return nil, w.err
	}
	return NewRecord(RecordOrder, 1, fields)
}

func (g *Generator) result(seq int, r *models.ResultInfo, stamp string) (Record, error) {
	if r.TestCode == "" {
		return nil, &MissingFieldError{Record: RecordResult, Index: seq, Field: "test code"}
	}
	if r.Value == "" {
		return nil, &MissingFieldError{Record: RecordResult, Index: seq, Field: "value"}
	}

	status, resulted := r.ResultStatus, r.ResultedAt
	if g.fillDefaults {
		status = orDefault(status, models.StatusFinal)
		resulted = orDefault(resulted, stamp)
	}

	var w fieldWriter
	fields := Fields{
		resultTestID:         w.testID(r.TestCode, r.TestName),
		resultValue:          w.text(r.Value),
		resultUnits:          w.text(r.Units),
		resultReferenceRange: w.text(r.ReferenceRange),
		resultAbnormalFlag:   w.text(r.AbnormalFlag),
		resultStatus:         w.text(status),
		resultOperatorID:     w.text(r.OperatorID),
		resultResultedAt:     w.text(resulted),
	}
	if w.err != nil {
		return nil, w.err
	}
	return NewRecord(RecordResult, seq, fields)
}

func (g *Generator) comment(seq int, c *models.CommentInfo) (Record, error) {
	if c.Text == "" {
		return nil, &MissingFieldError{Record: RecordComment, Index: seq, Field: "text"}
	}

	source, typ := c.Source, c.Type
	if g.fillDefaults {
		source = orDefault(source, models.CommentSourceInstrument)
		typ = orDefault(typ, models.CommentTypeGeneric)
	}

	var w fieldWriter
	fields := Fields{
		commentSource: w.text(source),
		commentText:   w.text(c.Text),
		commentType:   w.text(typ),
	}
	if w.err != nil {
		return nil, w.err
	}
	return NewRecord(RecordComment, seq, fields)
}

func (g *Generator) terminator(code string) (Record, error) {
	var w fieldWriter
	fields := Fields{
		terminatorCode: w.text(orDefault(code, models.TerminationNormal)),
	}
	if w.err != nil {
		return nil, w.err
	}
	return NewRecord(RecordTerminator, 1, fields)
}

// fieldWriter escapes field content and keeps the first failure.
type fieldWriter struct {
	err error
}

func (w *fieldWriter) text(s string) string {
	if w.err != nil {
		return ""
	}
	e, err := Escape(s)
	if err != nil {
		w.err = err
		return ""
	}
	return e
}

// components joins escaped parts with the component delimiter. A field whose
// parts are all empty is rendered empty.
func (w *fieldWriter) components(parts ...string) string {
	empty := true
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = w.text(p)
		if p != "" {
			empty = false
		}
	}
	if empty {
		return ""
	}
	return strings.Join(escaped, string(ComponentDelimiter))
}

// testID renders a universal test identifier, ^^^code^name.
func (w *fieldWriter) testID(code, name string) string {
	return strings.Repeat(string(ComponentDelimiter), testIDCode) + w.text(code) + string(ComponentDelimiter) + w.text(name)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
