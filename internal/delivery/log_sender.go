package delivery

import (
	"context"

	"go.uber.org/zap"

	"otp-service/internal/model"
	"otp-service/internal/util"
)

// LogSender is the development fallback when no broker is configured. It
// records that a delivery was requested without the code itself.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) Send(ctx context.Context, identifier string, channel model.Channel, code string) error {
	util.Info("otp delivery requested",
		zap.String("identifier", identifier),
		zap.String("channel", string(channel)),
		zap.Int("code_length", len(code)))
	return nil
}
