package commands

import (
	"go.uber.org/zap"

	"github.com/teranos/pulseflow/engine"
	"github.com/teranos/pulseflow/logger"
)

// registerServices binds the service handlers available to definitions run
// from the CLI. Embedding applications register their own.
func registerServices(e *engine.Engine, log *zap.SugaredLogger) error {
	services := map[string]engine.ServiceHandler{
		"noop": engine.ServiceFunc(func(*engine.ServiceContext) error { return nil }),
		"log": engine.ServiceFunc(func(sc *engine.ServiceContext) error {
			log.Infow("Service task reached",
				logger.FieldProcessInstanceID, sc.ProcessInstanceID(),
				logger.FieldActivityID, sc.ActivityID(),
				"business_key", sc.BusinessKey())
			return nil
		}),
	}
	for name, h := range services {
		if err := e.RegisterServiceHandler(name, h); err != nil {
			return err
		}
	}
	return nil
}
