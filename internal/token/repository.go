package token

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all storage interactions needed by the service.
// Implementations own token, counter, QR code and event state; nothing else
// writes it.
type Repository interface {
	// Centers
	GetCenter(ctx context.Context, id string) (*Center, error)
	ListCenters(ctx context.Context) ([]Center, error)
	UpsertCenter(ctx context.Context, c Center) (*Center, error)

	// CreateToken allocates the next number in the token's scope and stores
	// the token as pending. Both happen or neither does.
	CreateToken(ctx context.Context, nt NewToken) (*Token, error)
	GetToken(ctx context.Context, id uuid.UUID) (*Token, error)
	ListTokens(ctx context.Context, f Filter) ([]Token, error)

	// UpdateTokenStatus moves a token from one status to another and stamps
	// the matching timestamp. It returns ErrTokenNotFound when no token with
	// that id is currently in status from.
	UpdateTokenStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Token, error)

	// LastTokenNumber is the counter value of a scope, 0 if none was issued.
	LastTokenNumber(ctx context.Context, scope Scope) (int, error)

	// QR codes
	GetQRCode(ctx context.Context, code string) (*QRCode, error)
	CreateQRCodes(ctx context.Context, codes []QRCode) error
	ListQRCodes(ctx context.Context, centerID string) ([]QRCode, error)
	ToggleQRCode(ctx context.Context, code string, at time.Time) (*QRCode, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error

	Ping(ctx context.Context) error
}
