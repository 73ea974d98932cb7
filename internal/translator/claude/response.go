package claude

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/codexgate/codexgate/internal/translator"
)

// IDPrefix for locally generated message ids.
const IDPrefix = "msg_"

// TranslateStream converts one upstream event into zero or more named
// Anthropic SSE events. The full sequence over a stream is message_start,
// content_block_start, content_block_delta repeated, content_block_stop,
// message_delta, message_stop.
func TranslateStream(data []byte, st *translator.StreamState) []translator.WireEvent {
	root := gjson.ParseBytes(data)
	var out []translator.WireEvent

	switch root.Get("type").String() {
	case "response.created", "response.in_progress":
		if id := root.Get("response.id").String(); id != "" {
			st.UpstreamID = id
		}
		out = append(out, startEvents(st)...)
	case "response.output_text.delta":
		delta := root.Get("delta").String()
		st.AppendText(delta)
		out = append(out, startEvents(st)...)
		out = append(out, translator.WireEvent{Event: "content_block_delta", Data: deltaEvent(delta)})
	case "response.output_text.done":
	case "response.completed":
		if id := root.Get("response.id").String(); id != "" {
			st.UpstreamID = id
		}
		st.InputTokens = root.Get("response.usage.input_tokens").Int()
		st.OutputTokens = root.Get("response.usage.output_tokens").Int()
		st.Completed = true
		if st.BlockOpen {
			out = append(out, translator.WireEvent{Event: "content_block_stop", Data: `{"type":"content_block_stop","index":0}`})
			st.BlockOpen = false
		}
		messageDelta := `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":0}}`
		messageDelta, _ = sjson.Set(messageDelta, "usage.output_tokens", st.OutputTokens)
		out = append(out,
			translator.WireEvent{Event: "message_delta", Data: messageDelta},
			translator.WireEvent{Event: "message_stop", Data: `{"type":"message_stop"}`},
		)
	}
	return out
}

// NonStream builds the single message object from the accumulated state.
func NonStream(st *translator.StreamState) string {
	template := `{"id":"","type":"message","role":"assistant","model":"","content":[{"type":"text","text":""}],"stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":0,"output_tokens":0}}`
	template, _ = sjson.Set(template, "id", st.ID)
	template, _ = sjson.Set(template, "model", st.Model)
	template, _ = sjson.Set(template, "content.0.text", st.Text())
	template, _ = sjson.Set(template, "usage.input_tokens", st.InputTokens)
	template, _ = sjson.Set(template, "usage.output_tokens", st.OutputTokens)
	return template
}

// startEvents emits message_start and content_block_start exactly once.
func startEvents(st *translator.StreamState) []translator.WireEvent {
	if st.RoleSent {
		return nil
	}
	st.RoleSent = true
	st.BlockOpen = true

	messageStart := `{"type":"message_start","message":{"id":"","type":"message","role":"assistant","model":"","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":0,"output_tokens":0}}}`
	messageStart, _ = sjson.Set(messageStart, "message.id", st.ID)
	messageStart, _ = sjson.Set(messageStart, "message.model", st.Model)

	return []translator.WireEvent{
		{Event: "message_start", Data: messageStart},
		{Event: "content_block_start", Data: `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
	}
}

func deltaEvent(delta string) string {
	event := `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":""}}`
	event, _ = sjson.Set(event, "delta.text", delta)
	return event
}
