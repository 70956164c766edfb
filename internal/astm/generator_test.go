package astm

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savegress/labsync/pkg/models"
)

var exampleTime = time.Date(2023, 12, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return exampleTime }

func examplePatient() *models.PatientInfo {
	return &models.PatientInfo{
		PatientID:  "PAT12345",
		FirstName:  "John",
		LastName:   "Doe",
		MiddleName: "M",
		DOB:        "19850615",
		Gender:     models.GenderMale,
		Phone:      "+1234567890",
	}
}

func exampleOrder() *models.OrderInfo {
	return &models.OrderInfo{
		SpecimenID: "SAMPLE001",
		TestCode:   "MALARIA",
		TestName:   "Malaria Parasite Detection",
		Priority:   models.PriorityRoutine,
		Provider:   "Dr. Smith",
		ReportType: models.StatusFinal,
	}
}

func exampleResults() []models.ResultInfo {
	return []models.ResultInfo{
		{
			TestCode:       "MALARIA",
			TestName:       "Malaria Result",
			Value:          "Positive",
			ReferenceRange: "Negative",
			AbnormalFlag:   models.FlagAbnormal,
			ResultStatus:   models.StatusFinal,
			OperatorID:     "TECH01",
			ResultedAt:     "20231215120500",
		},
		{
			TestCode:     "SPECIES",
			TestName:     "Parasite Species",
			Value:        "Plasmodium falciparum",
			ResultStatus: models.StatusFinal,
			OperatorID:   "TECH01",
			ResultedAt:   "20231215120500",
		},
	}
}

func exampleComments() []models.CommentInfo {
	return []models.CommentInfo{{
		Source: models.CommentSourceInstrument,
		Text:   "Ring forms and gametocytes observed",
		Type:   models.CommentTypeGeneric,
	}}
}

func exampleRequest() *Request {
	return &Request{
		Patient:    examplePatient(),
		Order:      exampleOrder(),
		Results:    exampleResults(),
		Comments:   exampleComments(),
		SenderID:   "IVD_DEVICE_001",
		ReceiverID: "LIS",
		Timestamp:  exampleTime,
	}
}

var exampleLines = []string{
	`H|\^&|||IVD_DEVICE_001^E1394-97|||||LIS||P|1|20231215120000`,
	"P|1|PAT12345|||Doe^John^M||19850615|M||||+1234567890||||||||||||||||||||||",
	"O|1|SAMPLE001||^^^MALARIA^Malaria Parasite Detection|R|||||||||||Dr. Smith|||||||||F|",
	"R|1|^^^MALARIA^Malaria Result|Positive||Negative|A||F||TECH01||20231215120500|",
	"R|2|^^^SPECIES^Parasite Species|Plasmodium falciparum|||||F||TECH01||20231215120500|",
	"C|1|I|Ring forms and gametocytes observed|G",
	"L|1|N",
}

func TestGenerator_Generate(t *testing.T) {
	g := NewGenerator(nil)

	got, err := g.Generate(exampleRequest())
	require.NoError(t, err)
	assert.Equal(t, strings.Join(exampleLines, "\r"), got)
}

func TestGenerator_GenerateCRLF(t *testing.T) {
	g := NewGenerator(&GeneratorConfig{LineEnding: LineEndingCRLF})

	got, err := g.Generate(exampleRequest())
	require.NoError(t, err)
	assert.Equal(t, strings.Join(exampleLines, "\r\n"), got)
}

func TestGenerator_clockOverride(t *testing.T) {
	g := NewGenerator(&GeneratorConfig{Now: fixedClock})

	req := exampleRequest()
	req.Timestamp = time.Time{}

	got, err := g.Generate(req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, exampleLines[0]+"\r"))
}

func TestGenerator_headerDefaults(t *testing.T) {
	g := NewGenerator(&GeneratorConfig{SenderID: "ANALYZER", Version: "LIS2-A2", Now: fixedClock})

	got, err := g.Generate(&Request{
		Results:      []models.ResultInfo{{TestCode: "GLU", Value: "5.4"}},
		ProcessingID: "T",
	})
	require.NoError(t, err)

	lines := strings.Split(got, "\r")
	require.Len(t, lines, 3)
	assert.Equal(t, `H|\^&|||ANALYZER^LIS2-A2|||||||T|1|20231215120000`, lines[0])
	assert.Equal(t, "R|1|^^^GLU^|5.4||||||||||", lines[1])
	assert.Equal(t, "L|1|N", lines[2])
}

func TestGenerator_optionalSections(t *testing.T) {
	g := NewGenerator(&GeneratorConfig{Now: fixedClock})

	tests := []struct {
		name  string
		req   *Request
		types string
	}{
		{
			name:  "results only",
			req:   &Request{Results: exampleResults()},
			types: "HRRL",
		},
		{
			name:  "patient without order",
			req:   &Request{Patient: examplePatient(), Results: exampleResults()},
			types: "HPRRL",
		},
		{
			name:  "order without patient",
			req:   &Request{Order: exampleOrder(), Results: exampleResults(), Comments: exampleComments()},
			types: "HORRCL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := g.Records(tt.req)
			require.NoError(t, err)

			var types strings.Builder
			for _, r := range records {
				types.WriteByte(byte(r.Type()))
			}
			assert.Equal(t, tt.types, types.String())
		})
	}
}

func TestGenerator_resultSequences(t *testing.T) {
	g := NewGenerator(&GeneratorConfig{Now: fixedClock})

	for n := 0; n <= 50; n++ {
		results := make([]models.ResultInfo, n)
		for i := range results {
			results[i] = models.ResultInfo{TestCode: fmt.Sprintf("T%02d", i), Value: fmt.Sprint(i)}
		}

		records, err := g.Records(&Request{Patient: examplePatient(), Results: results})
		if n == 0 {
			assert.ErrorIs(t, err, ErrEmptyResults)
			var emptyErr *EmptyResultsError
			assert.True(t, errors.As(err, &emptyErr))
			continue
		}
		require.NoError(t, err, "n=%d", n)

		var got []*Result
		for _, r := range records {
			if res, ok := r.(*Result); ok {
				got = append(got, res)
			}
		}
		require.Len(t, got, n)
		for i, res := range got {
			assert.Equal(t, i+1, res.Sequence())
			assert.Equal(t, fmt.Sprintf("T%02d", i), res.TestCode())
		}
	}
}

func TestGenerator_commentSequences(t *testing.T) {
	g := NewGenerator(&GeneratorConfig{Now: fixedClock})

	comments := []models.CommentInfo{{Text: "first"}, {Text: "second"}, {Text: "third"}}
	records, err := g.Records(&Request{Results: exampleResults(), Comments: comments})
	require.NoError(t, err)

	seq := 0
	for _, r := range records {
		if c, ok := r.(*Comment); ok {
			seq++
			assert.Equal(t, seq, c.Sequence())
			assert.Equal(t, comments[seq-1].Text, c.Text())
		}
	}
	assert.Equal(t, 3, seq)
	assert.Equal(t, RecordTerminator, records[len(records)-1].Type())
}

func TestGenerator_missingFields(t *testing.T) {
	g := NewGenerator(&GeneratorConfig{Now: fixedClock})

	tests := []struct {
		name   string
		mutate func(*Request)
		record RecordType
		index  int
		field  string
	}{
		{
			name:   "patient id",
			mutate: func(r *Request) { r.Patient.PatientID = "" },
			record: RecordPatient, index: 1, field: "patient id",
		},
		{
			name:   "specimen id",
			mutate: func(r *Request) { r.Order.SpecimenID = "" },
			record: RecordOrder, index: 1, field: "specimen id",
		},
		{
			name:   "order test code",
			mutate: func(r *Request) { r.Order.TestCode = "" },
			record: RecordOrder, index: 1, field: "test code",
		},
		{
			name:   "result test code",
			mutate: func(r *Request) { r.Results[1].TestCode = "" },
			record: RecordResult, index: 2, field: "test code",
		},
		{
			name:   "result value",
			mutate: func(r *Request) { r.Results[0].Value = "" },
			record: RecordResult, index: 1, field: "value",
		},
		{
			name:   "comment text",
			mutate: func(r *Request) { r.Comments[0].Text = "" },
			record: RecordComment, index: 1, field: "text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := exampleRequest()
			tt.mutate(req)

			got, err := g.Generate(req)
			assert.Empty(t, got)

			var missing *MissingFieldError
			require.True(t, errors.As(err, &missing), "got %v", err)
			assert.Equal(t, tt.record, missing.Record)
			assert.Equal(t, tt.index, missing.Index)
			assert.Equal(t, tt.field, missing.Field)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestGenerator_escapesFieldContent(t *testing.T) {
	g := NewGenerator(&GeneratorConfig{Now: fixedClock})

	got, err := g.Generate(&Request{
		Patient: &models.PatientInfo{PatientID: "A|1", LastName: "O&Brien"},
		Results: []models.ResultInfo{{TestCode: "RNG", Value: "0.27^4.20", Units: `mmol\L`}},
	})
	require.NoError(t, err)

	lines := strings.Split(got, "\r")
	assert.Equal(t, "P|1|A&F&1|||O&E&Brien^^", strings.Join(strings.Split(lines[1], "|")[:6], "|"))
	assert.Equal(t, `R|1|^^^RNG^|0.27&S&4.20|mmol&R&L|||||||||`, lines[2])
}

func TestGenerator_rejectsControlCharacters(t *testing.T) {
	g := NewGenerator(&GeneratorConfig{Now: fixedClock})

	req := exampleRequest()
	req.Comments[0].Text = "line one\rline two"

	_, err := g.Generate(req)
	var escErr *EscapingError
	assert.True(t, errors.As(err, &escErr))
}

func TestGenerator_fillDefaults(t *testing.T) {
	g := NewGenerator(&GeneratorConfig{FillDefaults: true, Now: fixedClock})

	records, err := g.Records(&Request{
		Patient:  &models.PatientInfo{PatientID: "P1"},
		Order:    &models.OrderInfo{SpecimenID: "S1", TestCode: "HB"},
		Results:  []models.ResultInfo{{TestCode: "HB", Value: "13.2"}},
		Comments: []models.CommentInfo{{Text: "ok"}},
	})
	require.NoError(t, err)

	patient := records[1].(*Patient).Info()
	assert.Equal(t, models.GenderUnknown, patient.Gender)

	order := records[2].(*Order).Info()
	assert.Equal(t, models.PriorityRoutine, order.Priority)
	assert.Equal(t, "20231215120000", order.RequestedAt)
	assert.Equal(t, models.StatusFinal, order.ReportType)

	result := records[3].(*Result).Info()
	assert.Equal(t, models.StatusFinal, result.ResultStatus)
	assert.Equal(t, "20231215120000", result.ResultedAt)

	comment := records[4].(*Comment).Info()
	assert.Equal(t, models.CommentSourceInstrument, comment.Source)
	assert.Equal(t, models.CommentTypeGeneric, comment.Type)
}

func TestGenerator_terminationCode(t *testing.T) {
	g := NewGenerator(&GeneratorConfig{Now: fixedClock})

	req := exampleRequest()
	req.TerminationCode = models.TerminationQuery

	got, err := g.Generate(req)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got, "\rL|1|Q"))
}

func TestGenerator_GenerateSimple(t *testing.T) {
	g := NewGenerator(&GeneratorConfig{Now: fixedClock})

	got, err := g.GenerateSimple("PAT1", "Jane Q Public", "S-9", "HBA1C", "Hemoglobin A1c", "6.1", "%", "4.0-5.6", models.FlagHigh)
	require.NoError(t, err)

	m, err := ParseString(got)
	require.NoError(t, err)

	patient := ExtractPatient(m)
	require.NotNil(t, patient)
	assert.Equal(t, "Jane", patient.FirstName)
	assert.Equal(t, "Public", patient.LastName)
	assert.Equal(t, models.GenderUnknown, patient.Gender)

	results := ExtractResults(m)
	require.Len(t, results, 1)
	assert.Equal(t, "6.1", results[0].Value)
	assert.Equal(t, models.FlagHigh, results[0].AbnormalFlag)
}

func TestGenerator_GenerateFramed(t *testing.T) {
	g := NewGenerator(nil)

	framed, err := g.GenerateFramed(exampleRequest())
	require.NoError(t, err)

	text, err := Unframe(framed)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(exampleLines, "\r"), text)
}

func TestGenerator_GenerateFramedControlBytes(t *testing.T) {
	g := NewGenerator(nil)
	req := exampleRequest()
	req.Results[1].Value = "a\x02b\x03c"

	framed, err := g.GenerateFramed(req)
	require.NoError(t, err)

	m, err := Parse(framed)
	require.NoError(t, err)
	assert.True(t, m.Framed())

	results := ExtractResults(m)
	require.Len(t, results, 2)
	assert.Equal(t, "a\x02b\x03c", results[1].Value)
	assert.Equal(t, "N", ExtractTerminationCode(m))
}

func TestGenerator_concurrentUse(t *testing.T) {
	g := NewGenerator(nil)
	want := strings.Join(exampleLines, "\r")

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := g.Generate(exampleRequest())
			if err == nil && got != want {
				err = fmt.Errorf("unexpected message %q", got)
			}
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestGenerator_RecordsAndRender(t *testing.T) {
	g := NewGenerator(&GeneratorConfig{LineEnding: LineEndingCRLF})

	records, err := g.Records(exampleRequest())
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"H": 1, "P": 1, "O": 1, "R": 2, "C": 1, "L": 1}, CountRecords(records))
	assert.Equal(t, strings.Join(exampleLines, "\r\n"), g.Render(records))
}
