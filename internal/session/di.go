package session

import (
	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/foxseedlab/kikitori/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		stt := do.MustInvoke[transcriber.Transcriber](i)
		source := do.MustInvoke[audio.Source](i)

		var archiver *Archiver
		if cfg.OutputsEnabled() {
			repo := do.MustInvoke[repository.Repository](i)
			wh := do.MustInvoke[webhook.Sender](i)
			dc := do.MustInvoke[discord.Client](i)
			archiver = NewArchiver(cfg, repo, wh, dc)
		}
		return NewClient(cfg, stt, source, archiver), nil
	})
}
