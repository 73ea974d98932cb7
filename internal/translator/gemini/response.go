package gemini

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/codexgate/codexgate/internal/translator"
)

// TranslateStream converts one upstream event into zero or more
// GenerateContentResponse frames for the streaming endpoint.
func TranslateStream(data []byte, st *translator.StreamState) []translator.WireEvent {
	root := gjson.ParseBytes(data)
	var out []translator.WireEvent

	switch root.Get("type").String() {
	case "response.created", "response.in_progress":
		if id := root.Get("response.id").String(); id != "" {
			st.UpstreamID = id
		}
	case "response.output_text.delta":
		delta := root.Get("delta").String()
		st.AppendText(delta)
		out = append(out, translator.WireEvent{Data: deltaFrame(st, delta)})
	case "response.output_text.done":
	case "response.completed":
		if id := root.Get("response.id").String(); id != "" {
			st.UpstreamID = id
		}
		st.InputTokens = root.Get("response.usage.input_tokens").Int()
		st.OutputTokens = root.Get("response.usage.output_tokens").Int()
		st.Completed = true
		out = append(out, translator.WireEvent{Data: finalFrame(st)})
	}
	return out
}

// NonStream builds the single GenerateContentResponse from the accumulated
// state.
func NonStream(st *translator.StreamState) string {
	template := frameTemplate(st, st.Text())
	template, _ = sjson.Set(template, "candidates.0.finishReason", "STOP")
	return withUsage(template, st)
}

func frameTemplate(st *translator.StreamState, text string) string {
	template := `{"candidates":[{"content":{"parts":[{"text":""}],"role":"model"},"index":0}],"modelVersion":""}`
	template, _ = sjson.Set(template, "candidates.0.content.parts.0.text", text)
	template, _ = sjson.Set(template, "modelVersion", st.Model)
	return template
}

func deltaFrame(st *translator.StreamState, delta string) string {
	return frameTemplate(st, delta)
}

func finalFrame(st *translator.StreamState) string {
	template := frameTemplate(st, "")
	template, _ = sjson.Set(template, "candidates.0.finishReason", "STOP")
	return withUsage(template, st)
}

func withUsage(template string, st *translator.StreamState) string {
	template, _ = sjson.Set(template, "usageMetadata.promptTokenCount", st.InputTokens)
	template, _ = sjson.Set(template, "usageMetadata.candidatesTokenCount", st.OutputTokens)
	template, _ = sjson.Set(template, "usageMetadata.totalTokenCount", st.InputTokens+st.OutputTokens)
	return template
}
