package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestRequestTemplateShape(t *testing.T) {
	template := RequestTemplate(Options{Model: "gpt-5-codex"}, "")
	root := gjson.Parse(template)

	assert.Equal(t, "gpt-5-codex", root.Get("model").String())
	assert.True(t, root.Get("stream").Bool())
	assert.False(t, root.Get("store").Bool())
	assert.True(t, root.Get("input").IsArray())
	assert.Len(t, root.Get("input").Array(), 0)
	assert.True(t, root.Get("tools").IsArray())
	assert.NotEmpty(t, root.Get("instructions").String())
}

func TestRequestTemplateAppendsSystemText(t *testing.T) {
	template := RequestTemplate(Options{Model: "gpt-5"}, "You are terse.")
	instructions := gjson.Get(template, "instructions").String()
	assert.Contains(t, instructions, "You are terse.")
	// The desktop context prompt always leads.
	assert.NotEqual(t, "You are terse.", instructions)
}

func TestAppendInput(t *testing.T) {
	template := RequestTemplate(Options{Model: "gpt-5-codex"}, "")
	template = AppendInput(template, "user", "hello")
	template = AppendInput(template, "assistant", "hi there")

	items := gjson.Get(template, "input").Array()
	assert.Len(t, items, 2)
	assert.Equal(t, "user", items[0].Get("role").String())
	assert.Equal(t, "hello", items[0].Get("content").String())
	assert.Equal(t, "assistant", items[1].Get("role").String())
	assert.Equal(t, "hi there", items[1].Get("content").String())
}

func TestSetEffort(t *testing.T) {
	template := RequestTemplate(Options{Model: "gpt-5-codex"}, "")

	withEffort := SetEffort(template, EffortHigh)
	assert.Equal(t, "high", gjson.Get(withEffort, "reasoning.effort").String())

	unchanged := SetEffort(template, "")
	assert.False(t, gjson.Get(unchanged, "reasoning").Exists())
}

func TestFlattenMarkers(t *testing.T) {
	assert.Equal(t, `[Tool Call: read_file({"path":"a.go"})]`, FlattenToolCall("read_file", `{"path":"a.go"}`))
	assert.Equal(t, "[Tool Result (call_1)]: ok", FlattenToolResult("call_1", "ok"))
	assert.Equal(t, "[Image: https://x/y.png]", FlattenImage("https://x/y.png"))
	assert.Equal(t, "[Image attached]", FlattenImage(""))
}
