package cmd

import (
	"log/slog"

	"github.com/dukex/itinera/pkg/gateway"
	loggateway "github.com/dukex/itinera/pkg/gateway/logger"
	"github.com/dukex/itinera/pkg/gateway/whatsapp"
)

// NewGateway picks the WhatsApp Cloud API when credentials are configured
// and otherwise logs sends, which keeps local runs free of real traffic.
func NewGateway(logger *slog.Logger, config whatsapp.Config) gateway.Gateway {
	if config.PhoneNumberID != "" && config.AccessToken != "" {
		return whatsapp.NewGateway(logger, config)
	}

	return loggateway.NewGateway(logger)
}
