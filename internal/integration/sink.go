package integration

import (
	"context"
	"errors"

	"github.com/lorawan-server/udp-ingest/internal/models"
)

// ErrUnexpectedStatus is returned when the ingest endpoint answers with a
// non-2xx status.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Sink delivers decoded events downstream. Sinks never retry.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev *models.DecodedEvent) error
}
