package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/udp-ingest/internal/models"
)

// CreateUplinkEvent records an audit entry in the uplink_events table
func (s *PostgresStore) CreateUplinkEvent(ctx context.Context, e *models.AuditEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	receivedAt, err := time.Parse(time.RFC3339Nano, e.ReceivedAt)
	if err != nil {
		receivedAt = time.Now().UTC()
	}

	query := `
        INSERT INTO uplink_events (
            id, received_at, gateway_id, dev_addr, f_cnt,
            encrypted_frm, mic, decrypted_hex, event_timestamp,
            taxonomy_code, common_name, confidence_bin, decode_error,
            session_id, forwarded
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = s.db.ExecContext(ctx, query,
		e.ID, receivedAt, nullString(e.GatewayID), e.DevAddr, int(e.FCnt),
		e.EncryptedFRM, e.MIC, e.DecryptedHex, e.EventTimestamp,
		e.TaxonomyCode, e.CommonName, e.ConfidenceBin, nullString(e.DecodeError),
		nullString(e.SessionID), e.Forwarded,
	)

	return err
}

// ListUplinkEvents returns the newest events, newest first. An empty devAddr
// lists every device.
func (s *PostgresStore) ListUplinkEvents(ctx context.Context, devAddr string, limit int) ([]*models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, received_at, COALESCE(gateway_id, ''), dev_addr, f_cnt,
               encrypted_frm, mic, decrypted_hex, event_timestamp,
               taxonomy_code, common_name, confidence_bin, COALESCE(decode_error, ''),
               COALESCE(session_id, ''), forwarded
        FROM uplink_events
        WHERE $1::text = '' OR dev_addr = $1::text
        ORDER BY received_at DESC
        LIMIT $2`, devAddr, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.AuditEntry
	for rows.Next() {
		var (
			e          models.AuditEntry
			receivedAt time.Time
			fCnt       int
		)

		if err := rows.Scan(
			&e.ID, &receivedAt, &e.GatewayID, &e.DevAddr, &fCnt,
			&e.EncryptedFRM, &e.MIC, &e.DecryptedHex, &e.EventTimestamp,
			&e.TaxonomyCode, &e.CommonName, &e.ConfidenceBin, &e.DecodeError,
			&e.SessionID, &e.Forwarded,
		); err != nil {
			return nil, err
		}

		e.ReceivedAt = receivedAt.UTC().Format(time.RFC3339Nano)
		e.FCnt = uint16(fCnt)
		events = append(events, &e)
	}

	return events, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
