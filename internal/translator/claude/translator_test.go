package claude

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/codexgate/codexgate/internal/translator"
)

var opts = translator.Options{Model: "gpt-5-codex", DefaultEffort: "medium"}

func TestConvertMessagesRequestBasic(t *testing.T) {
	raw := []byte(`{"model":"claude-whatever","system":"Be brief.","messages":[
		{"role":"user","content":"hello"},
		{"role":"assistant","content":[{"type":"text","text":"hi"}]},
		{"role":"user","content":"bye"}
	]}`)
	body, err := ConvertMessagesRequest(raw, opts)
	require.NoError(t, err)
	root := gjson.ParseBytes(body)

	assert.Equal(t, "gpt-5-codex", root.Get("model").String())
	assert.Contains(t, root.Get("instructions").String(), "Be brief.")

	items := root.Get("input").Array()
	require.Len(t, items, 3)
	assert.Equal(t, "hi", items[1].Get("content").String())
	assert.Equal(t, "medium", root.Get("reasoning.effort").String())
}

func TestConvertMessagesRequestSystemBlocks(t *testing.T) {
	raw := []byte(`{"system":[{"type":"text","text":"one"},{"type":"text","text":"two"}],
		"messages":[{"role":"user","content":"x"}]}`)
	body, err := ConvertMessagesRequest(raw, opts)
	require.NoError(t, err)
	instructions := gjson.GetBytes(body, "instructions").String()
	assert.Contains(t, instructions, "one\n\ntwo")
}

func TestConvertMessagesRequestThinkingBudget(t *testing.T) {
	cases := []struct {
		budget int64
		want   string
	}{
		{1000, "low"},
		{7999, "medium"},
		{8000, "high"},
		{50000, "xhigh"},
	}
	for _, tc := range cases {
		raw := []byte(`{"thinking":{"type":"enabled","budget_tokens":` +
			strconv.FormatInt(tc.budget, 10) + `},"messages":[{"role":"user","content":"x"}]}`)
		body, err := ConvertMessagesRequest(raw, opts)
		require.NoError(t, err)
		assert.Equal(t, tc.want, gjson.GetBytes(body, "reasoning.effort").String(), "budget %d", tc.budget)
	}
}

func TestConvertMessagesRequestToolBlocks(t *testing.T) {
	raw := []byte(`{"messages":[
		{"role":"assistant","content":[
			{"type":"text","text":"running"},
			{"type":"tool_use","id":"tu_1","name":"ls","input":{"dir":"."}}
		]},
		{"role":"user","content":[
			{"type":"tool_result","tool_use_id":"tu_1","content":[{"type":"text","text":"a.go"}]}
		]}
	]}`)
	body, err := ConvertMessagesRequest(raw, opts)
	require.NoError(t, err)

	items := gjson.GetBytes(body, "input").Array()
	require.Len(t, items, 2)
	assert.Equal(t, "running\n[Tool Call: ls({\"dir\":\".\"})]", items[0].Get("content").String())
	assert.Equal(t, "[Tool Result (tu_1)]: a.go", items[1].Get("content").String())
}

func TestConvertMessagesRequestErrors(t *testing.T) {
	_, err := ConvertMessagesRequest([]byte(`{"messages":[]}`), opts)
	assert.EqualError(t, err, "messages must be a non-empty array")

	_, err = ConvertMessagesRequest([]byte(`{"messages":[{"role":"system","content":"x"}]}`), opts)
	assert.EqualError(t, err, "unsupported message role: system")
}

func TestTranslateStreamSequence(t *testing.T) {
	st := translator.NewStreamState(IDPrefix, "gpt-5-codex")

	events := TranslateStream([]byte(`{"type":"response.created","response":{"id":"resp_1"}}`), st)
	require.Len(t, events, 2)
	assert.Equal(t, "message_start", events[0].Event)
	start := gjson.Parse(events[0].Data)
	assert.Equal(t, st.ID, start.Get("message.id").String())
	assert.Equal(t, "assistant", start.Get("message.role").String())
	assert.Equal(t, "content_block_start", events[1].Event)
	assert.Equal(t, int64(0), gjson.Get(events[1].Data, "index").Int())

	events = TranslateStream([]byte(`{"type":"response.output_text.delta","delta":"A"}`), st)
	require.Len(t, events, 1)
	assert.Equal(t, "content_block_delta", events[0].Event)
	assert.Equal(t, "A", gjson.Get(events[0].Data, "delta.text").String())

	events = TranslateStream([]byte(`{"type":"response.output_text.delta","delta":"B"}`), st)
	require.Len(t, events, 1)
	assert.Equal(t, "B", gjson.Get(events[0].Data, "delta.text").String())

	events = TranslateStream([]byte(`{"type":"response.completed","response":{"id":"resp_1","usage":{"input_tokens":1,"output_tokens":2}}}`), st)
	require.Len(t, events, 3)
	assert.Equal(t, "content_block_stop", events[0].Event)
	assert.Equal(t, "message_delta", events[1].Event)
	delta := gjson.Parse(events[1].Data)
	assert.Equal(t, "end_turn", delta.Get("delta.stop_reason").String())
	assert.Equal(t, int64(2), delta.Get("usage.output_tokens").Int())
	assert.Equal(t, "message_stop", events[2].Event)

	assert.True(t, st.Completed)
	assert.Equal(t, "AB", st.Text())
}

func TestTranslateStreamStartBeforeFirstDelta(t *testing.T) {
	st := translator.NewStreamState(IDPrefix, "gpt-5-codex")
	events := TranslateStream([]byte(`{"type":"response.output_text.delta","delta":"hi"}`), st)
	require.Len(t, events, 3)
	assert.Equal(t, "message_start", events[0].Event)
	assert.Equal(t, "content_block_start", events[1].Event)
	assert.Equal(t, "content_block_delta", events[2].Event)
}

func TestNonStream(t *testing.T) {
	st := translator.NewStreamState(IDPrefix, "gpt-5-codex")
	TranslateStream([]byte(`{"type":"response.created","response":{"id":"r"}}`), st)
	TranslateStream([]byte(`{"type":"response.output_text.delta","delta":"AB"}`), st)
	TranslateStream([]byte(`{"type":"response.completed","response":{"id":"r","usage":{"input_tokens":1,"output_tokens":2}}}`), st)

	root := gjson.Parse(NonStream(st))
	assert.Equal(t, "message", root.Get("type").String())
	assert.Equal(t, st.ID, root.Get("id").String())
	assert.Equal(t, "AB", root.Get("content.0.text").String())
	assert.Equal(t, "end_turn", root.Get("stop_reason").String())
	assert.Equal(t, int64(1), root.Get("usage.input_tokens").Int())
	assert.Equal(t, int64(2), root.Get("usage.output_tokens").Int())
}
