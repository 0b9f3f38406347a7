package toolregistry

import (
	"go.uber.org/fx"

	"github.com/emergent-company/orchestrator/domain/eventbus"
	"github.com/emergent-company/orchestrator/domain/filestore"
)

// Module provides the Registry singleton and registers the built-in
// workspace tools (write_artifact/read_artifact/list_artifacts) at
// startup, per §4.D "registration is expected at startup".
var Module = fx.Module("toolregistry",
	fx.Provide(New),
	fx.Invoke(registerBuiltins),
)

func registerBuiltins(reg *Registry, store filestore.FileStore, bus *eventbus.Bus) {
	RegisterFileTools(reg, store, bus)
}
