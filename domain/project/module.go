package project

import (
	"go.uber.org/fx"
)

// Module provides the project domain's Store.
var Module = fx.Module("project",
	fx.Provide(NewStore),
)
