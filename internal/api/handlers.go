package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/savegress/labsync/internal/astm"
	"github.com/savegress/labsync/internal/config"
	"github.com/savegress/labsync/internal/journal"
	"github.com/savegress/labsync/pkg/models"
)

// maxBodyBytes bounds raw message bodies.
const maxBodyBytes = 1 << 20

// Transmitter delivers a rendered message to an instrument.
type Transmitter interface {
	Transmit(ctx context.Context, message string) error
}

// Handlers contains all HTTP handlers
type Handlers struct {
	codec     *config.CodecConfig
	generator *astm.Generator
	journal   *journal.Journal
	tx        Transmitter
}

// NewHandlers creates new handlers
func NewHandlers(codec *config.CodecConfig, gen *astm.Generator, j *journal.Journal, tx Transmitter) *Handlers {
	return &Handlers{
		codec:     codec,
		generator: gen,
		journal:   j,
		tx:        tx,
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "labsync",
		"serial":  h.tx != nil,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// GenerateRequest is the body of generate and send requests
type GenerateRequest struct {
	Patient         *models.PatientInfo  `json:"patient,omitempty"`
	Order           *models.OrderInfo    `json:"order,omitempty"`
	Results         []models.ResultInfo  `json:"results"`
	Comments        []models.CommentInfo `json:"comments,omitempty"`
	SenderID        string               `json:"senderId,omitempty"`
	ReceiverID      string               `json:"receiverId,omitempty"`
	ProcessingID    string               `json:"processingId,omitempty"`
	Timestamp       string               `json:"timestamp,omitempty"` // YYYYMMDDHHMMSS or RFC 3339
	TerminationCode string               `json:"terminationCode,omitempty"`
	Framed          *bool                `json:"framed,omitempty"`
}

// GenerateResponse is the result of a generate request
type GenerateResponse struct {
	ID           string         `json:"id"`
	Message      string         `json:"message"`
	Framed       string         `json:"framed,omitempty"`
	RecordCounts map[string]int `json:"recordCounts"`
}

// ParseResponse is the result of a parse request
type ParseResponse struct {
	ID              string               `json:"id"`
	Header          models.HeaderInfo    `json:"header"`
	Patient         *models.PatientInfo  `json:"patient,omitempty"`
	Order           *models.OrderInfo    `json:"order,omitempty"`
	Results         []models.ResultInfo  `json:"results"`
	Comments        []models.CommentInfo `json:"comments"`
	TerminationCode string               `json:"terminationCode"`
	RecordCounts    map[string]int       `json:"recordCounts"`
	Framed          bool                 `json:"framed"`
}

// GenerateMessage renders a message from domain structures
func (h *Handlers) GenerateMessage(w http.ResponseWriter, r *http.Request) {
	var body GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	text, counts, err := h.render(&body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	framed := h.codec.Framing
	if body.Framed != nil {
		framed = *body.Framed
	}

	entry := h.journal.Record(r.Context(), &journal.RecordRequest{
		Direction:    models.DirectionOutbound,
		Source:       "api",
		Raw:          text,
		Framed:       framed,
		RecordCounts: counts,
	})

	resp := GenerateResponse{
		ID:           entryID(entry),
		Message:      text,
		RecordCounts: counts,
	}
	if framed {
		resp.Framed = string(astm.Frame(text))
	}
	respond(w, http.StatusOK, resp)
}

// FrameMessage wraps a raw message body in the transmission envelope
func (h *Handlers) FrameMessage(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(astm.Frame(string(data)))
}

// ParseMessage decodes a raw or framed message body
func (h *Handlers) ParseMessage(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := astm.Parse(data)
	req := &journal.RecordRequest{
		Direction: models.DirectionInbound,
		Source:    "api",
		Raw:       string(data),
		Err:       err,
	}
	if m != nil {
		req.Framed = m.Framed()
		req.RecordCounts = m.Counts()
	}
	entry := h.journal.Record(r.Context(), req)

	if err != nil {
		respondParseError(w, entryID(entry), err)
		return
	}

	respond(w, http.StatusOK, ParseResponse{
		ID:              entryID(entry),
		Header:          astm.ExtractHeader(m),
		Patient:         astm.ExtractPatient(m),
		Order:           astm.ExtractOrder(m),
		Results:         astm.ExtractResults(m),
		Comments:        astm.ExtractComments(m),
		TerminationCode: astm.ExtractTerminationCode(m),
		RecordCounts:    m.Counts(),
		Framed:          m.Framed(),
	})
}

// SendMessage renders a message and transmits it on the instrument line
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	if h.tx == nil {
		respondError(w, http.StatusServiceUnavailable, "Instrument line not configured")
		return
	}

	var body GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	text, counts, err := h.render(&body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	txErr := h.tx.Transmit(r.Context(), text)
	entry := h.journal.Record(r.Context(), &journal.RecordRequest{
		Direction:    models.DirectionOutbound,
		Source:       "serial",
		Raw:          text,
		Framed:       true,
		RecordCounts: counts,
		Err:          txErr,
	})

	if txErr != nil {
		respond(w, http.StatusBadGateway, map[string]string{
			"id":    entryID(entry),
			"error": txErr.Error(),
		})
		return
	}

	respond(w, http.StatusOK, GenerateResponse{
		ID:           entryID(entry),
		Message:      text,
		RecordCounts: counts,
	})
}

// render builds the message for body, filling request level defaults from
// the codec configuration.
func (h *Handlers) render(body *GenerateRequest) (string, map[string]int, error) {
	req := &astm.Request{
		Patient:         body.Patient,
		Order:           body.Order,
		Results:         body.Results,
		Comments:        body.Comments,
		SenderID:        body.SenderID,
		ReceiverID:      body.ReceiverID,
		ProcessingID:    body.ProcessingID,
		TerminationCode: body.TerminationCode,
	}
	if req.ReceiverID == "" {
		req.ReceiverID = h.codec.ReceiverID
	}
	if req.ProcessingID == "" {
		req.ProcessingID = h.codec.ProcessingID
	}
	if body.Timestamp != "" {
		ts, err := parseTimestamp(body.Timestamp)
		if err != nil {
			return "", nil, err
		}
		req.Timestamp = ts
	}

	records, err := h.generator.Records(req)
	if err != nil {
		return "", nil, err
	}
	return h.generator.Render(records), astm.CountRecords(records), nil
}

func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(astm.TimestampLayout, s); err == nil {
		return ts, nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return ts, nil
}

// Journal handlers

// ListJournal lists journal entries
func (h *Handlers) ListJournal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := journal.Filter{
		Direction: models.Direction(q.Get("direction")),
		Source:    q.Get("source"),
	}
	if failed := q.Get("failed"); failed != "" {
		b, err := strconv.ParseBool(failed)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid failed parameter")
			return
		}
		filter.Failed = &b
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		filter.Limit = n
	}

	respond(w, http.StatusOK, h.journal.List(filter))
}

// GetJournalEntry gets a journal entry by ID
func (h *Handlers) GetJournalEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, ok := h.journal.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "Journal entry not found")
		return
	}

	respond(w, http.StatusOK, entry)
}

// GetJournalStats gets journal statistics
func (h *Handlers) GetJournalStats(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, h.journal.Stats())
}

// Helper functions

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.New("invalid request body")
	}
	if len(data) == 0 {
		return nil, errors.New("empty request body")
	}
	return data, nil
}

func respondParseError(w http.ResponseWriter, id string, err error) {
	body := map[string]interface{}{
		"id":    id,
		"error": err.Error(),
	}

	var pe *astm.ParseError
	var mismatch *astm.ChecksumMismatchError
	switch {
	case errors.As(err, &pe):
		body["kind"] = pe.Kind.String()
		if pe.Line > 0 {
			body["line"] = pe.Line
		}
	case errors.As(err, &mismatch):
		body["kind"] = "checksum mismatch"
	}

	respond(w, http.StatusUnprocessableEntity, body)
}

func entryID(entry *models.JournalEntry) string {
	if entry != nil {
		return entry.ID
	}
	return uuid.New().String()
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, map[string]string{"error": message})
}
