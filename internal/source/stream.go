package source

import (
	"context"
	"errors"

	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

// ErrEndOfStream is returned by Next once a recorded source is exhausted.
var ErrEndOfStream = errors.New("end of stream")

// Stream yields frames one at a time. Any error other than ErrEndOfStream or a
// context error is transient: the reader may reconnect and try again.
type Stream interface {
	Next(ctx context.Context) (*models.Frame, error)
	Close() error
}
