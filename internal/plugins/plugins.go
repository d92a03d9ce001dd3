package plugins

import (
	"github.com/bl4ck0w1/easmscan/internal/orchestration"
	"github.com/bl4ck0w1/easmscan/internal/plugins/telerik"
	"github.com/bl4ck0w1/easmscan/internal/plugins/webconfig"
	"github.com/sirupsen/logrus"
)

// Builtins returns the bundled detectors in registration order.
func Builtins(logger *logrus.Logger) []orchestration.Capability {
	return []orchestration.Capability{
		webconfig.New(logger),
		telerik.New(logger),
	}
}

func NewRegistry(logger *logrus.Logger) (*orchestration.Registry, error) {
	return orchestration.NewRegistry(Builtins(logger)...)
}
