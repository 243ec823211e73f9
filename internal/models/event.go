package models

import (
	"time"

	"github.com/google/uuid"
)

// IngestTypeDetection is the record type of a decoded detection event.
const IngestTypeDetection = 1

// DecodedEvent combines an uplink with the application decoder output.
// When decoding fails DecodeError is set and the decode fields are nil.
type DecodedEvent struct {
	Uplink *Uplink

	EventTime     *time.Time
	TaxonomyCode  *int
	CommonName    *string
	ConfidenceBin *int
	DecodeError   string

	// SessionID is looked up per event at forward time.
	SessionID string
}

// IngestRecord is the JSON document posted to the ingestion sink.
type IngestRecord struct {
	Type            int     `json:"type"`
	SessionID       string  `json:"session_id"`
	NodeID          string  `json:"node_id"`
	CommonName      *string `json:"common_name"`
	ConfidenceLevel *int    `json:"confidence_level"`
	TimeStamp       *string `json:"time_stamp"`
}

// AuditEntry is one element of the audit log array.
type AuditEntry struct {
	ID         uuid.UUID `json:"id"`
	ReceivedAt string    `json:"received_at"`
	GatewayID  string    `json:"gateway_id,omitempty"`

	DevAddr      string `json:"devaddr"`
	FCnt         uint16 `json:"fcnt"`
	EncryptedFRM string `json:"encrypted_frm"`
	MIC          string `json:"mic"`
	DecryptedHex string `json:"decrypted_hex"`

	EventTimestamp *string `json:"event_timestamp,omitempty"`
	TaxonomyCode   *int    `json:"taxonomy_code,omitempty"`
	CommonName     *string `json:"common_name,omitempty"`
	ConfidenceBin  *int    `json:"confidence_bin,omitempty"`
	DecodeError    string  `json:"decode_error,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	Forwarded bool   `json:"forwarded"`
}

// EventMessage is published to message brokers. It carries the ingest
// record plus the uplink context the HTTP sink does not need.
type EventMessage struct {
	IngestRecord

	ID           string `json:"id"`
	GatewayID    string `json:"gateway_id,omitempty"`
	FCnt         uint16 `json:"fcnt"`
	DecryptedHex string `json:"decrypted_hex"`
	TaxonomyCode *int   `json:"taxonomy_code,omitempty"`
	DecodeError  string `json:"decode_error,omitempty"`
	RXInfo       RXInfo `json:"rx_info"`
	ReceivedAt   string `json:"received_at"`
}

// FormatTime renders t the way timestamps appear in ingest records and
// audit entries: UTC, second precision, trailing Z.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// IngestRecord builds the sink payload for e.
func (e *DecodedEvent) IngestRecord() IngestRecord {
	rec := IngestRecord{
		Type:            IngestTypeDetection,
		SessionID:       e.SessionID,
		NodeID:          e.Uplink.DevAddr,
		CommonName:      e.CommonName,
		ConfidenceLevel: e.ConfidenceBin,
	}

	if e.EventTime != nil {
		ts := FormatTime(*e.EventTime)
		rec.TimeStamp = &ts
	}

	return rec
}

// Message builds the broker payload for e.
func (e *DecodedEvent) Message() EventMessage {
	u := e.Uplink
	return EventMessage{
		IngestRecord: e.IngestRecord(),
		ID:           u.ID.String(),
		GatewayID:    u.GatewayID,
		FCnt:         u.FCnt,
		DecryptedHex: u.DecryptedHex(),
		TaxonomyCode: e.TaxonomyCode,
		DecodeError:  e.DecodeError,
		RXInfo:       u.RXInfo,
		ReceivedAt:   u.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
}

// AuditEntry builds the audit log entry for e.
func (e *DecodedEvent) AuditEntry(forwarded bool) AuditEntry {
	u := e.Uplink
	entry := AuditEntry{
		ID:            u.ID,
		ReceivedAt:    u.ReceivedAt.UTC().Format(time.RFC3339Nano),
		GatewayID:     u.GatewayID,
		DevAddr:       u.DevAddr,
		FCnt:          u.FCnt,
		EncryptedFRM:  u.EncryptedHex(),
		MIC:           u.MICHex(),
		DecryptedHex:  u.DecryptedHex(),
		TaxonomyCode:  e.TaxonomyCode,
		CommonName:    e.CommonName,
		ConfidenceBin: e.ConfidenceBin,
		DecodeError:   e.DecodeError,
		SessionID:     e.SessionID,
		Forwarded:     forwarded,
	}

	if e.EventTime != nil {
		ts := FormatTime(*e.EventTime)
		entry.EventTimestamp = &ts
	}

	return entry
}
