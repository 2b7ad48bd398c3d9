package tracker

import (
	"log/slog"

	"github.com/btwld/docling-sdk-sub000/internal/docling"
	"github.com/btwld/docling-sdk-sub000/internal/domain"
	"github.com/btwld/docling-sdk-sub000/internal/progress"
	"github.com/btwld/docling-sdk-sub000/internal/wschannel"
	"github.com/jonboulle/clockwork"
)

// WebSocketFactory creates push channels against the status websocket of client
func WebSocketFactory(client *docling.Client, dialer wschannel.Dialer, clock clockwork.Clock, logger *slog.Logger) progress.ChannelFactory {
	return func(jobID string, opts wschannel.Options, emit domain.EventHandler) progress.PushChannel {
		opts.Header = client.Header()
		if dialer != nil {
			opts.Dialer = dialer
		}
		if opts.Clock == nil {
			opts.Clock = clock
		}
		if opts.Logger == nil {
			opts.Logger = logger
		}
		return wschannel.New(jobID, client.StatusWebSocketURL(jobID), emit, opts)
	}
}
