// Package richtext flattens the comment representations used by time-tracking
// APIs into plain display strings.
package richtext

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Flatten converts a comment value into display text.
//
// A null or missing value yields "". A string is returned unchanged. A
// document tree (nodes with "type", "text" and "content") is walked depth
// first and the text of every text node is joined with single spaces. Any
// other JSON value is returned in its raw form.
func Flatten(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return v.String()
	case gjson.JSON:
		var parts []string
		collect(v, &parts)
		if len(parts) == 0 && !isDocument(v) {
			return v.Raw
		}
		return strings.TrimSpace(strings.Join(parts, " "))
	default:
		return v.Raw
	}
}

// FlattenRaw is Flatten over a raw JSON value.
func FlattenRaw(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	return Flatten(gjson.ParseBytes(raw))
}

func collect(node gjson.Result, parts *[]string) {
	if node.IsArray() {
		for _, child := range node.Array() {
			collect(child, parts)
		}
		return
	}
	if !node.IsObject() {
		return
	}
	if node.Get("type").String() == "text" {
		if text := node.Get("text"); text.Type == gjson.String && text.String() != "" {
			*parts = append(*parts, text.String())
		}
	}
	if content := node.Get("content"); content.IsArray() {
		for _, child := range content.Array() {
			collect(child, parts)
		}
	}
}

func isDocument(v gjson.Result) bool {
	if v.IsArray() {
		return true
	}
	return v.Get("type").Exists() || v.Get("content").Exists()
}
