// Package openai translates between the OpenAI chat completions protocol and
// the upstream Responses protocol, in both directions.
package openai

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/codexgate/codexgate/internal/translator"
)

// ConvertChatRequest transforms an OpenAI chat completions body into the
// upstream Responses shape. System messages concatenate into instructions;
// every other message becomes an ordered input item with flattened text
// content. Tool declarations are accepted and discarded.
func ConvertChatRequest(rawJSON []byte, opts translator.Options) ([]byte, error) {
	root := gjson.ParseBytes(rawJSON)
	messages := root.Get("messages")
	if !messages.IsArray() || len(messages.Array()) == 0 {
		return nil, errors.New("messages must be a non-empty array")
	}

	var systemParts []string
	type inputItem struct{ role, content string }
	var items []inputItem

	for _, message := range messages.Array() {
		role := message.Get("role").String()
		switch role {
		case "system", "developer":
			if text := contentText(message.Get("content")); text != "" {
				systemParts = append(systemParts, text)
			}
		case "tool":
			text := translator.FlattenToolResult(
				message.Get("tool_call_id").String(),
				contentText(message.Get("content")),
			)
			items = append(items, inputItem{role: "user", content: text})
		case "user", "assistant":
			text := contentText(message.Get("content"))
			if calls := message.Get("tool_calls"); calls.IsArray() {
				for _, call := range calls.Array() {
					marker := translator.FlattenToolCall(
						call.Get("function.name").String(),
						call.Get("function.arguments").String(),
					)
					if text != "" {
						text += "\n"
					}
					text += marker
				}
			}
			if text == "" {
				continue
			}
			items = append(items, inputItem{role: role, content: text})
		default:
			return nil, errors.New("unsupported message role: " + role)
		}
	}
	if len(items) == 0 {
		return nil, errors.New("messages contain no content")
	}

	template := translator.RequestTemplate(opts, strings.Join(systemParts, "\n\n"))
	for _, item := range items {
		template = translator.AppendInput(template, item.role, item.content)
	}
	effort := translator.ResolveEffort(root.Get("reasoning_effort").String(), opts.DefaultEffort)
	template = translator.SetEffort(template, effort)
	return []byte(template), nil
}

// contentText flattens a chat completions content value, which is either a
// plain string or an array of typed parts.
func contentText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}
	var parts []string
	for _, part := range content.Array() {
		switch part.Get("type").String() {
		case "text":
			parts = append(parts, part.Get("text").String())
		case "image_url":
			parts = append(parts, translator.FlattenImage(part.Get("image_url.url").String()))
		}
	}
	return strings.Join(parts, "\n")
}
