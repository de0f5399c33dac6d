package session

import (
	"github.com/movehive/voicedesk/internal/audio"
	"github.com/movehive/voicedesk/internal/config"
	"github.com/movehive/voicedesk/internal/repository"
	"github.com/movehive/voicedesk/internal/roombackend"
	"github.com/movehive/voicedesk/internal/transcriber"
	"github.com/movehive/voicedesk/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		backend := do.MustInvoke[roombackend.Client](i)
		stt := do.MustInvoke[transcriber.Transcriber](i)
		wh := do.MustInvoke[webhook.Sender](i)
		newDecoder := do.MustInvoke[audio.DecoderFactory](i)
		return NewManager(cfg, repo, backend, stt, wh, newDecoder), nil
	})
}
