package openai

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/codexgate/codexgate/internal/translator"
)

// IDPrefix for locally generated completion ids.
const IDPrefix = "chatcmpl-"

// TranslateStream converts one upstream event into zero or more chat
// completion chunks. The caller terminates the stream with data: [DONE] after
// response.completed.
func TranslateStream(data []byte, st *translator.StreamState) []translator.WireEvent {
	root := gjson.ParseBytes(data)
	var out []translator.WireEvent

	switch root.Get("type").String() {
	case "response.created", "response.in_progress":
		if id := root.Get("response.id").String(); id != "" {
			st.UpstreamID = id
		}
		if !st.RoleSent {
			st.RoleSent = true
			out = append(out, translator.WireEvent{Data: roleChunk(st)})
		}
	case "response.output_text.delta":
		delta := root.Get("delta").String()
		st.AppendText(delta)
		if !st.RoleSent {
			st.RoleSent = true
			out = append(out, translator.WireEvent{Data: roleChunk(st)})
		}
		out = append(out, translator.WireEvent{Data: contentChunk(st, delta)})
	case "response.output_text.done":
		// Recognized, nothing to emit; the full text arrived as deltas.
	case "response.completed":
		if id := root.Get("response.id").String(); id != "" {
			st.UpstreamID = id
		}
		st.InputTokens = root.Get("response.usage.input_tokens").Int()
		st.OutputTokens = root.Get("response.usage.output_tokens").Int()
		st.Completed = true
		out = append(out, translator.WireEvent{Data: finishChunk(st)})
	}
	return out
}

// NonStream builds the single chat.completion object from the accumulated
// state.
func NonStream(st *translator.StreamState) string {
	template := `{"id":"","object":"chat.completion","created":0,"model":"","choices":[{"index":0,"message":{"role":"assistant","content":""},"finish_reason":"stop"}],"usage":{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0}}`
	template, _ = sjson.Set(template, "id", st.ID)
	template, _ = sjson.Set(template, "created", st.CreatedAt)
	template, _ = sjson.Set(template, "model", st.Model)
	template, _ = sjson.Set(template, "choices.0.message.content", st.Text())
	template, _ = sjson.Set(template, "usage.prompt_tokens", st.InputTokens)
	template, _ = sjson.Set(template, "usage.completion_tokens", st.OutputTokens)
	template, _ = sjson.Set(template, "usage.total_tokens", st.InputTokens+st.OutputTokens)
	return template
}

func chunkTemplate(st *translator.StreamState) string {
	template := `{"id":"","object":"chat.completion.chunk","created":0,"model":"","choices":[{"index":0,"delta":{},"finish_reason":null}]}`
	template, _ = sjson.Set(template, "id", st.ID)
	template, _ = sjson.Set(template, "created", st.CreatedAt)
	template, _ = sjson.Set(template, "model", st.Model)
	return template
}

func roleChunk(st *translator.StreamState) string {
	template := chunkTemplate(st)
	template, _ = sjson.Set(template, "choices.0.delta.role", "assistant")
	return template
}

func contentChunk(st *translator.StreamState, delta string) string {
	template := chunkTemplate(st)
	template, _ = sjson.Set(template, "choices.0.delta.content", delta)
	return template
}

func finishChunk(st *translator.StreamState) string {
	template := chunkTemplate(st)
	template, _ = sjson.Set(template, "choices.0.finish_reason", "stop")
	template, _ = sjson.Set(template, "usage.prompt_tokens", st.InputTokens)
	template, _ = sjson.Set(template, "usage.completion_tokens", st.OutputTokens)
	template, _ = sjson.Set(template, "usage.total_tokens", st.InputTokens+st.OutputTokens)
	return template
}
