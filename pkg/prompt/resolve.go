package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Channel names determine the output token budget of a resolved prompt.
const (
	ChannelChat    = "chat"
	ChannelReport  = "report"
	ChannelTitle   = "title"
	ChannelSummary = "summary"
	ChannelCode    = "code"
)

// channelMaxTokens is the channel → output budget table. Unknown channels
// fall back to the chat budget.
var channelMaxTokens = map[string]int{
	ChannelChat:    1200,
	ChannelReport:  3500,
	ChannelTitle:   64,
	ChannelSummary: 256,
	ChannelCode:    2048,
}

const defaultMaxTokens = 1200

// Placeholders recognized inside system_base.
const (
	placeholderCopilot = "{CopilotOS}"
	placeholderOrg     = "{Saptiva}"
	placeholderTools   = "{TOOLS}"
)

// toolsBlock is the block replaced wholesale when no tools are enabled.
const toolsBlock = "Herramientas disponibles\n{TOOLS}"

const noToolsSentence = "No hay herramientas disponibles en esta conversación."

// addendumSeparator joins system_base and addendum in the resolved prompt.
const addendumSeparator = "\n\n---\n\n"

// Metadata describes how a prompt was resolved; attached to every resolution
// for telemetry and cache discrimination.
type Metadata struct {
	Model         string `json:"model"`
	Channel       string `json:"channel"`
	PromptVersion string `json:"prompt_version"`
	SystemHash    string `json:"system_hash"`
	HasAddendum   bool   `json:"has_addendum"`
	HasTools      bool   `json:"has_tools"`
}

// Resolved is the outcome of resolving (model, channel, tools_markdown).
type Resolved struct {
	System   string      `json:"system"`
	Params   ModelParams `json:"params"`
	Metadata Metadata    `json:"_metadata"`
}

// ChannelBudget returns the output token budget for a channel.
func ChannelBudget(channel string) int {
	if budget, ok := channelMaxTokens[channel]; ok {
		return budget
	}
	return defaultMaxTokens
}

// Resolve produces the concrete system prompt and generation parameters for
// (model, channel, toolsMarkdown). Resolution is deterministic: identical
// inputs against identical registry contents yield an identical SystemHash.
func (r *Registry) Resolve(model, toolsMarkdown, channel string) (*Resolved, error) {
	entry, ok := r.models[model]
	if !ok {
		entry, ok = r.models[DefaultModelKey]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrModelNotConfigured, model)
		}
	}

	system := entry.SystemBase
	system = strings.ReplaceAll(system, placeholderCopilot, r.CopilotName)
	system = strings.ReplaceAll(system, placeholderOrg, r.OrgName)

	hasTools := toolsMarkdown != ""
	if hasTools {
		system = strings.ReplaceAll(system, placeholderTools, toolsMarkdown)
	} else {
		system = strings.ReplaceAll(system, toolsBlock, noToolsSentence)
		system = strings.ReplaceAll(system, placeholderTools, "")
	}

	if entry.Addendum != "" {
		system += addendumSeparator + entry.Addendum
	}

	params := entry.Params
	params.MaxTokens = ChannelBudget(channel)

	return &Resolved{
		System: system,
		Params: params,
		Metadata: Metadata{
			Model:         model,
			Channel:       channel,
			PromptVersion: r.Version,
			SystemHash:    Fingerprint(system),
			HasAddendum:   entry.Addendum != "",
			HasTools:      hasTools,
		},
	}, nil
}

// Fingerprint is the first 16 hex characters of SHA-256 over the resolved
// system prompt.
func Fingerprint(system string) string {
	sum := sha256.Sum256([]byte(system))
	return hex.EncodeToString(sum[:])[:16]
}
