package auth

import "go.uber.org/fx"

// Module wires the ZitadelService as a singleton.
var Module = fx.Module("auth",
	fx.Provide(NewZitadelService),
)
