package verifier

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrInvalidTicket = errors.New("verifier: invalid ticket")

// Verifier resolves an opaque session ticket to the identity it was issued for.
type Verifier interface {
	Verify(ctx context.Context, token []byte) (uuid.UUID, error)
}
