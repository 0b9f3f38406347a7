package toolregistry

import (
	"context"
	"fmt"

	"github.com/emergent-company/orchestrator/domain/eventbus"
	"github.com/emergent-company/orchestrator/domain/filestore"
)

// RegisterFileTools registers the three built-in tools write_artifact,
// read_artifact and list_artifacts. They are offered to every agent whose
// AllowedTools is empty; an agent with a non-empty AllowedTools sees only
// the ones it names. These are the
// only path by which a tool call reaches the workspace (§5 "workspace ...
// the only durable shared mutable resource"); the AgentRunner itself never
// writes files. A successful write publishes artifactCreated (version 1)
// or artifactUpdated (version > 1) on bus so subscribers see the change
// without polling GetArtifacts.
func RegisterFileTools(reg *Registry, store filestore.FileStore, bus *eventbus.Bus) {
	reg.Register(Registration{
		Name:        "write_artifact",
		Description: "Write (or overwrite) a named artifact in the project workspace, producing a new version.",
		Schema: Object([]string{"name", "content"}, map[string]*Schema{
			"name":     String("artifact name, e.g. a relative file path"),
			"content":  String("UTF-8 text content to store"),
			"mimeType": String("content MIME type; defaults to text/plain"),
		}),
		ParallelSafe: false,
		Handler:      writeArtifactHandler(store, bus),
	})

	reg.Register(Registration{
		Name:        "read_artifact",
		Description: "Read one version of a named artifact from the project workspace (latest if version is omitted).",
		Schema: Object([]string{"name"}, map[string]*Schema{
			"name":    String("artifact name to read"),
			"version": Number("specific version to read; omit for latest"),
		}),
		ParallelSafe: true,
		Handler:      readArtifactHandler(store),
	})

	reg.Register(Registration{
		Name:         "list_artifacts",
		Description:  "List every artifact currently in the project workspace with its latest version metadata.",
		Schema:       Object(nil, nil),
		ParallelSafe: true,
		Handler:      listArtifactsHandler(store),
	})
}

func writeArtifactHandler(store filestore.FileStore, bus *eventbus.Bus) Handler {
	return func(ctx context.Context, invCtx InvocationContext, args map[string]any) (any, error) {
		name, _ := args["name"].(string)
		content, _ := args["content"].(string)
		mimeType, _ := args["mimeType"].(string)
		if mimeType == "" {
			mimeType = "text/plain"
		}

		artifact, err := store.Write(ctx, invCtx.ProjectID, name, []byte(content), mimeType)
		if err != nil {
			return nil, err
		}

		evType := eventbus.TypeArtifactCreated
		if artifact.Version > 1 {
			evType = eventbus.TypeArtifactUpdated
		}
		bus.Publish(invCtx.ProjectID, eventbus.Event{
			Type: evType,
			Data: eventbus.ArtifactEventData{
				Name:      artifact.Name,
				Version:   artifact.Version,
				MimeType:  artifact.MimeType,
				Size:      artifact.Size,
				CreatedAt: artifact.CreatedAt,
			},
		})

		return artifact, nil
	}
}

func readArtifactHandler(store filestore.FileStore) Handler {
	return func(ctx context.Context, invCtx InvocationContext, args map[string]any) (any, error) {
		name, _ := args["name"].(string)
		version := 0
		if v, ok := args["version"].(float64); ok {
			version = int(v)
		}

		content, artifact, err := store.Read(ctx, invCtx.ProjectID, name, version)
		if err != nil {
			return nil, err
		}

		return map[string]any{
			"content":  string(content),
			"artifact": artifact,
		}, nil
	}
}

func listArtifactsHandler(store filestore.FileStore) Handler {
	return func(ctx context.Context, invCtx InvocationContext, args map[string]any) (any, error) {
		artifacts, err := store.List(ctx, invCtx.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("list artifacts: %w", err)
		}
		return artifacts, nil
	}
}
