// Package claude translates between the Anthropic messages protocol and the
// upstream Responses protocol, in both directions.
package claude

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/codexgate/codexgate/internal/translator"
)

// ConvertMessagesRequest transforms an Anthropic messages body into the
// upstream Responses shape. The top-level system field (string or text
// blocks) feeds instructions; a thinking.budget_tokens hint maps to reasoning
// effort.
func ConvertMessagesRequest(rawJSON []byte, opts translator.Options) ([]byte, error) {
	root := gjson.ParseBytes(rawJSON)
	messages := root.Get("messages")
	if !messages.IsArray() || len(messages.Array()) == 0 {
		return nil, errors.New("messages must be a non-empty array")
	}

	template := translator.RequestTemplate(opts, systemText(root.Get("system")))

	appended := 0
	for _, message := range messages.Array() {
		role := message.Get("role").String()
		if role != "user" && role != "assistant" {
			return nil, errors.New("unsupported message role: " + role)
		}
		text := blocksText(message.Get("content"))
		if text == "" {
			continue
		}
		template = translator.AppendInput(template, role, text)
		appended++
	}
	if appended == 0 {
		return nil, errors.New("messages contain no content")
	}

	effort := opts.DefaultEffort
	if budget := root.Get("thinking.budget_tokens"); budget.Exists() {
		effort = translator.EffortFromBudget(budget.Int())
	}
	template = translator.SetEffort(template, effort)
	return []byte(template), nil
}

func systemText(system gjson.Result) string {
	if system.Type == gjson.String {
		return system.String()
	}
	if !system.IsArray() {
		return ""
	}
	var parts []string
	for _, block := range system.Array() {
		if block.Get("type").String() == "text" {
			parts = append(parts, block.Get("text").String())
		}
	}
	return strings.Join(parts, "\n\n")
}

// blocksText flattens a messages content value, which is either a string or
// an array of typed blocks.
func blocksText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}
	var parts []string
	for _, block := range content.Array() {
		switch block.Get("type").String() {
		case "text":
			parts = append(parts, block.Get("text").String())
		case "tool_use":
			parts = append(parts, translator.FlattenToolCall(
				block.Get("name").String(),
				block.Get("input").Raw,
			))
		case "tool_result":
			parts = append(parts, translator.FlattenToolResult(
				block.Get("tool_use_id").String(),
				blocksText(block.Get("content")),
			))
		case "image":
			parts = append(parts, translator.FlattenImage(""))
		}
	}
	return strings.Join(parts, "\n")
}
