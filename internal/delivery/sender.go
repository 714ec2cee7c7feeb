package delivery

import (
	"context"

	"otp-service/internal/model"
)

// Sender hands a freshly generated code off for delivery to the end user.
// Implementations must never persist or log the plaintext code.
type Sender interface {
	Send(ctx context.Context, identifier string, channel model.Channel, code string) error
}
