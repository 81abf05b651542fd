package modules

import (
	"github.com/iota-uz/policyhub/pkg/application"
)

func Load(app application.Application, modules ...application.Module) error {
	for _, module := range modules {
		if err := module.Register(app); err != nil {
			return err
		}
		app.Logger().WithField("module", module.Name()).Debug("module registered")
	}
	return nil
}
