package webhook

import (
	"log/slog"

	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (webhook.Sender, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.TranscriptWebhookURL == "" {
			slog.Debug("transcript webhook disabled")
		}
		return NewHTTPSender(c.TranscriptWebhookURL), nil
	})
}
