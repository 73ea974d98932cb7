package translator

import (
	"github.com/tidwall/sjson"
)

// RequestTemplate seeds the upstream Responses body. Input items and the
// reasoning block are appended by the per-protocol translators.
func RequestTemplate(opts Options, systemText string) string {
	template := `{"model":"","instructions":"","input":[],"stream":true,"store":false,"tools":[]}`
	template, _ = sjson.Set(template, "model", opts.Model)
	template, _ = sjson.Set(template, "instructions", Instructions(opts.PromptPath, systemText))
	return template
}

// AppendInput appends one {role, content} item to the input array.
func AppendInput(template, role, content string) string {
	item := `{"role":"","content":""}`
	item, _ = sjson.Set(item, "role", role)
	item, _ = sjson.Set(item, "content", content)
	template, _ = sjson.SetRaw(template, "input.-1", item)
	return template
}

// SetEffort attaches the reasoning block when effort is non-empty.
func SetEffort(template, effort string) string {
	if effort == "" {
		return template
	}
	template, _ = sjson.Set(template, "reasoning.effort", effort)
	return template
}
