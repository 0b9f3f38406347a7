package modelprovider

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
)

// Module provides the process-wide ModelProvider singleton. Depends on a
// Config value (built by internal/config.NewModelProviderConfig, which
// this package cannot import without cycling back through
// domain/agentrunner).
var Module = fx.Module("modelprovider",
	fx.Provide(
		fx.Annotate(
			newVertexModelProvider,
			fx.As(new(ModelProvider)),
		),
	),
)

// newVertexModelProvider builds the VertexProvider from process config.
// fx constructors don't receive a request-scoped context, so this uses
// context.Background() the same way the teacher's own Vertex client
// construction does at startup (application-default-credential lookup,
// not a per-request call).
func newVertexModelProvider(cfg Config, log *slog.Logger) (*VertexProvider, error) {
	return NewVertexProvider(context.Background(), cfg, log)
}
