// Package gemini translates between the Gemini generateContent protocol and
// the upstream Responses protocol, in both directions.
package gemini

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/codexgate/codexgate/internal/translator"
)

// ConvertGenerateRequest transforms a Gemini generateContent body into the
// upstream Responses shape. systemInstruction parts feed instructions; a
// generationConfig.thinkingConfig.thinkingBudget hint maps to reasoning
// effort.
func ConvertGenerateRequest(rawJSON []byte, opts translator.Options) ([]byte, error) {
	root := gjson.ParseBytes(rawJSON)
	contents := root.Get("contents")
	if !contents.IsArray() || len(contents.Array()) == 0 {
		return nil, errors.New("contents must be a non-empty array")
	}

	system := root.Get("systemInstruction")
	if !system.Exists() {
		system = root.Get("system_instruction")
	}
	template := translator.RequestTemplate(opts, partsText(system.Get("parts")))

	appended := 0
	for _, content := range contents.Array() {
		role := content.Get("role").String()
		switch role {
		case "model":
			role = "assistant"
		case "user", "":
			role = "user"
		default:
			return nil, errors.New("unsupported content role: " + role)
		}
		text := partsText(content.Get("parts"))
		if text == "" {
			continue
		}
		template = translator.AppendInput(template, role, text)
		appended++
	}
	if appended == 0 {
		return nil, errors.New("contents contain no parts")
	}

	effort := opts.DefaultEffort
	if budget := root.Get("generationConfig.thinkingConfig.thinkingBudget"); budget.Exists() {
		effort = translator.EffortFromBudget(budget.Int())
	}
	template = translator.SetEffort(template, effort)
	return []byte(template), nil
}

// partsText flattens a Gemini parts array to text.
func partsText(parts gjson.Result) string {
	if !parts.IsArray() {
		return ""
	}
	var out []string
	for _, part := range parts.Array() {
		switch {
		case part.Get("text").Exists():
			out = append(out, part.Get("text").String())
		case part.Get("functionCall").Exists():
			out = append(out, translator.FlattenToolCall(
				part.Get("functionCall.name").String(),
				part.Get("functionCall.args").Raw,
			))
		case part.Get("functionResponse").Exists():
			out = append(out, translator.FlattenToolResult(
				part.Get("functionResponse.name").String(),
				part.Get("functionResponse.response").Raw,
			))
		case part.Get("inlineData").Exists():
			out = append(out, translator.FlattenImage(""))
		}
	}
	return strings.Join(out, "\n")
}
