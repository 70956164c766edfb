package astm

import (
	"github.com/savegress/labsync/pkg/models"
)

// ExtractHeader maps the message header to its domain structure.
func ExtractHeader(m *ParsedMessage) models.HeaderInfo {
	return m.Header().Info()
}

// ExtractPatient returns the first patient of the message, or nil.
func ExtractPatient(m *ParsedMessage) *models.PatientInfo {
	for _, r := range m.byType[RecordPatient] {
		if p, ok := r.(*Patient); ok {
			info := p.Info()
			return &info
		}
	}
	return nil
}

// ExtractOrder returns the first order of the message, or nil.
func ExtractOrder(m *ParsedMessage) *models.OrderInfo {
	for _, r := range m.byType[RecordOrder] {
		if o, ok := r.(*Order); ok {
			info := o.Info()
			return &info
		}
	}
	return nil
}

// ExtractResults returns every result in arrival order.
func ExtractResults(m *ParsedMessage) []models.ResultInfo {
	results := make([]models.ResultInfo, 0, len(m.byType[RecordResult]))
	for _, r := range m.byType[RecordResult] {
		if res, ok := r.(*Result); ok {
			results = append(results, res.Info())
		}
	}
	return results
}

// ExtractComments returns every comment in arrival order.
func ExtractComments(m *ParsedMessage) []models.CommentInfo {
	comments := make([]models.CommentInfo, 0, len(m.byType[RecordComment]))
	for _, r := range m.byType[RecordComment] {
		if c, ok := r.(*Comment); ok {
			comments = append(comments, c.Info())
		}
	}
	return comments
}

// ExtractTerminationCode returns the terminator's termination code.
func ExtractTerminationCode(m *ParsedMessage) string {
	return m.Terminator().Code()
}
