package roombackend

import (
	"github.com/movehive/voicedesk/internal/config"
	rb "github.com/movehive/voicedesk/internal/roombackend"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (rb.Client, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewClient(c.LiveKitURL, c.LiveKitAPIKey, c.LiveKitAPISecret), nil
	})
}
