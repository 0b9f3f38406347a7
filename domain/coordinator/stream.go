package coordinator

import (
	"context"

	"github.com/google/uuid"

	"github.com/emergent-company/orchestrator/domain/messagebuilder"
	"github.com/emergent-company/orchestrator/pkg/apperror"
	"github.com/emergent-company/orchestrator/pkg/modelprovider"
)

func toProviderMessages(history []messagebuilder.Message) []modelprovider.Message {
	out := make([]modelprovider.Message, 0, len(history))
	for _, m := range history {
		out = append(out, modelprovider.Message{Role: string(m.Role), Text: m.Content})
	}
	return out
}

// streamAssistantTurn drives one tool-free model turn through a fresh
// MessageBuilder, the same stream-to-parts pattern agentrunner.Runner uses
// for a specialist's turn, simplified here since the coordinator speaking as
// itself never issues tool calls (§4.G final synthesis / direct response).
func (c *Coordinator) streamAssistantTurn(ctx context.Context, projectID, systemPrompt string, history []messagebuilder.Message) (messagebuilder.Message, error) {
	stream, err := c.provider.Complete(ctx, systemPrompt, toProviderMessages(history), nil)
	if err != nil {
		return messagebuilder.Message{}, apperror.ErrModelCallFailed.WithInternal(err)
	}

	builder := messagebuilder.New(c.bus, projectID)
	builder.BeginMessage(uuid.NewString(), messagebuilder.RoleAssistant)

	var streamErr error
	for ev := range stream {
		switch ev.Kind {
		case modelprovider.StreamText:
			builder.AppendText(ev.TextDelta)
		case modelprovider.StreamReasoning:
			builder.AppendReasoning(ev.TextDelta)
		case modelprovider.StreamError:
			streamErr = ev.Err
		}
	}
	if streamErr != nil {
		builder.AppendError(streamErr.Error(), apperror.ErrModelCallFailed.Code)
	}
	return builder.FinishMessage(), nil
}

// announceMessage builds a short, deterministic assistant message without
// calling the model — used for the plan-created/plan-revised acknowledgments
// that §4.G doesn't ask to be model-generated prose.
func (c *Coordinator) announceMessage(projectID, text string) messagebuilder.Message {
	builder := messagebuilder.New(c.bus, projectID)
	builder.BeginMessage(uuid.NewString(), messagebuilder.RoleAssistant)
	builder.AppendText(text)
	return builder.FinishMessage()
}
