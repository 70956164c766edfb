package models

import (
	"time"
)

// Gender codes carried in the patient record
const (
	GenderMale    = "M"
	GenderFemale  = "F"
	GenderUnknown = "U"
)

// Order priority codes
const (
	PriorityRoutine = "R"
	PriorityStat    = "S"
	PriorityASAP    = "A"
)

// Report and result status codes
const (
	StatusFinal       = "F"
	StatusPreliminary = "P"
)

// Abnormal flags
const (
	FlagNormal   = "N"
	FlagAbnormal = "A"
	FlagHigh     = "H"
	FlagLow      = "L"
)

// Comment sources
const (
	CommentSourceInstrument = "I"
	CommentSourceLaboratory = "L"
	CommentTypeGeneric      = "G"
)

// Termination codes
const (
	TerminationNormal = "N"
	TerminationQuery  = "Q"
	TerminationError  = "I"
)

// HeaderInfo describes the sender and receiver of a message
type HeaderInfo struct {
	SenderID     string `json:"senderId"`
	Version      string `json:"version,omitempty"`
	ReceiverID   string `json:"receiverId,omitempty"`
	ProcessingID string `json:"processingId,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// PatientInfo holds patient demographics
type PatientInfo struct {
	PatientID    string `json:"patientId"`
	LabPatientID string `json:"labPatientId,omitempty"`
	LastName     string `json:"lastName,omitempty"`
	FirstName    string `json:"firstName,omitempty"`
	MiddleName   string `json:"middleName,omitempty"`
	DOB          string `json:"dob,omitempty"` // YYYYMMDD
	Gender       string `json:"gender,omitempty"`
	Street       string `json:"street,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	Zip          string `json:"zip,omitempty"`
	Phone        string `json:"phone,omitempty"`
}

// OrderInfo holds a test order
type OrderInfo struct {
	SpecimenID           string `json:"specimenId"`
	InstrumentSpecimenID string `json:"instrumentSpecimenId,omitempty"`
	TestCode             string `json:"testCode"`
	TestName             string `json:"testName,omitempty"`
	Priority             string `json:"priority,omitempty"`
	RequestedAt          string `json:"requestedAt,omitempty"` // YYYYMMDDHHMMSS
	CollectedAt          string `json:"collectedAt,omitempty"`
	Provider             string `json:"provider,omitempty"`
	ReportType           string `json:"reportType,omitempty"`
}

// ResultInfo holds one measured result
type ResultInfo struct {
	TestCode       string `json:"testCode"`
	TestName       string `json:"testName,omitempty"`
	Value          string `json:"value"`
	Units          string `json:"units,omitempty"`
	ReferenceRange string `json:"referenceRange,omitempty"`
	AbnormalFlag   string `json:"abnormalFlag,omitempty"`
	ResultStatus   string `json:"resultStatus,omitempty"`
	OperatorID     string `json:"operatorId,omitempty"`
	ResultedAt     string `json:"resultedAt,omitempty"`
}

// CommentInfo holds a free-text comment
type CommentInfo struct {
	Source string `json:"source,omitempty"`
	Text   string `json:"text"`
	Type   string `json:"type,omitempty"`
}

// Direction is the direction of a journaled message
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// JournalEntry records one message that passed through the codec
type JournalEntry struct {
	ID           string         `json:"id"`
	Direction    Direction      `json:"direction"`
	Source       string         `json:"source"`
	Raw          string         `json:"raw"`
	Framed       bool           `json:"framed"`
	RecordCounts map[string]int `json:"recordCounts,omitempty"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}
