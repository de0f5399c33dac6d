package dashboard

import (
	"github.com/movehive/voicedesk/internal/config"
	"github.com/movehive/voicedesk/internal/dashboard"
	"github.com/movehive/voicedesk/internal/repository"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		return NewServer(cfg.DashboardAddr, dashboard.NewHandler(repo).Routes()), nil
	})
}
