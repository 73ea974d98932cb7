package translator

import "fmt"

// Non-text content blocks are flattened into readable text markers so the
// upstream can still reason about them after the schema is collapsed to plain
// strings.

// FlattenToolCall renders a tool/function invocation.
func FlattenToolCall(name, args string) string {
	return fmt.Sprintf("[Tool Call: %s(%s)]", name, args)
}

// FlattenToolResult renders a tool/function result.
func FlattenToolResult(id, content string) string {
	return fmt.Sprintf("[Tool Result (%s)]: %s", id, content)
}

// FlattenImage marks inline or referenced image content.
func FlattenImage(ref string) string {
	if ref == "" {
		return "[Image attached]"
	}
	return fmt.Sprintf("[Image: %s]", ref)
}
