// Package messages implements the message preparer (C11): merging a
// system prompt, loaded history, and a new user prompt into the final
// message list sent to the completion endpoint.
package messages

import (
	"log/slog"

	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

// Input gathers the preparer's optional sources.
type Input struct {
	CustomMessages []orkit.Message
	SystemPrompt   string
	Prompt         string
	History        []orkit.HistoryEntry
}

// Prepare assembles the final message list per the rules:
//   - CustomMessages, if supplied, are used verbatim; the system prompt is
//     prepended only if none is already present in them (a warning is
//     logged when a system prompt was configured but skipped).
//   - Otherwise: [system?] ++ filter(history) ++ [user:prompt?].
//   - It is a configuration error for neither a prompt, a system prompt,
//     nor any history to be present.
func Prepare(in Input, logger *slog.Logger) ([]orkit.Message, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if len(in.CustomMessages) > 0 {
		return prependSystemIfAbsent(in.CustomMessages, in.SystemPrompt, logger), nil
	}

	if in.SystemPrompt == "" && in.Prompt == "" && len(in.History) == 0 {
		return nil, orkit.New(orkit.CodeConfigError, "at least one of prompt, systemPrompt, or history must be provided")
	}

	var out []orkit.Message
	if in.SystemPrompt != "" {
		out = append(out, orkit.NewTextMessage(orkit.RoleSystem, in.SystemPrompt))
	}
	out = append(out, filterHistory(in.History)...)
	if in.Prompt != "" {
		out = append(out, orkit.NewTextMessage(orkit.RoleUser, in.Prompt))
	}
	return out, nil
}

func prependSystemIfAbsent(custom []orkit.Message, systemPrompt string, logger *slog.Logger) []orkit.Message {
	if systemPrompt == "" {
		return append([]orkit.Message(nil), custom...)
	}
	for _, m := range custom {
		if m.Role == orkit.RoleSystem {
			logger.Warn("customMessages already contains a system message; configured systemPrompt is ignored")
			return append([]orkit.Message(nil), custom...)
		}
	}
	out := make([]orkit.Message, 0, len(custom)+1)
	out = append(out, orkit.NewTextMessage(orkit.RoleSystem, systemPrompt))
	out = append(out, custom...)
	return out
}

// filterHistory keeps role/content/name/tool_calls/tool_call_id from each
// entry's message, with missing content made an explicit null.
func filterHistory(entries []orkit.HistoryEntry) []orkit.Message {
	out := make([]orkit.Message, 0, len(entries))
	for _, e := range entries {
		m := e.Message
		out = append(out, orkit.Message{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
			ToolCalls:  m.ToolCalls,
		})
	}
	return out
}
