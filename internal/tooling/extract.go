package tooling

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/rendis/waypoint/pkg/schema"
)

var (
	toolNameKeys   = []string{"tool_name", "toolName", "tool"}
	toolParamsKeys = []string{"parameters", "params", "input"}

	callStartRe   = regexp.MustCompile(`^([A-Za-z_][\w.]*)\s*\(`)
	argRe         = regexp.MustCompile(`(?s)^([A-Za-z_]\w*)\s*=\s*(.+)$`)
	numberRe      = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	toolCodeFence = regexp.MustCompile("(?s)```tool_code[ \\t]*\\r?\\n(.*?)```")
)

// Extract finds tool directives in an agent's parsed output. An explicit
// tool_name/parameters pair comes first, then every statement of a tool_code
// field. Free text is decoded as JSON when possible, otherwise its
// ```tool_code fenced blocks are scanned. Directives with the same tool name
// and input are reported once.
func Extract(output any) []schema.ToolDirective {
	var found []schema.ToolDirective

	obj, _ := output.(map[string]any)
	if obj == nil {
		if text, ok := output.(string); ok {
			if decoded, ok := DecodeJSONOutput(text); ok {
				obj, _ = decoded.(map[string]any)
			}
			if obj == nil {
				for _, m := range toolCodeFence.FindAllStringSubmatch(text, -1) {
					found = append(found, embedded(SplitStatements(m[1]))...)
				}
				return dedupe(found)
			}
		}
	}
	if obj == nil {
		return nil
	}

	if d, ok := explicitDirective(obj); ok {
		found = append(found, d)
	}
	if code, ok := obj["tool_code"]; ok {
		found = append(found, embedded(statementsFrom(code))...)
	}
	return dedupe(found)
}

func explicitDirective(obj map[string]any) (schema.ToolDirective, bool) {
	var name string
	for _, k := range toolNameKeys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			name = strings.TrimSpace(s)
			break
		}
	}
	if name == "" {
		return schema.ToolDirective{}, false
	}

	input := map[string]any{}
	for _, k := range toolParamsKeys {
		if m, ok := obj[k].(map[string]any); ok {
			for pk, pv := range m {
				input[pk] = pv
			}
			break
		}
	}
	return schema.ToolDirective{ToolName: name, Input: input, Source: schema.DirectiveExplicit}, true
}

// statementsFrom flattens a tool_code value: a string or a (nested) array of strings.
func statementsFrom(v any) []string {
	switch val := v.(type) {
	case string:
		return SplitStatements(val)
	case []string:
		var out []string
		for _, s := range val {
			out = append(out, SplitStatements(s)...)
		}
		return out
	case []any:
		var out []string
		for _, item := range val {
			out = append(out, statementsFrom(item)...)
		}
		return out
	}
	return nil
}

func embedded(stmts []string) []schema.ToolDirective {
	var out []schema.ToolDirective
	for _, stmt := range stmts {
		name, input, ok := ParseToolCode(stmt)
		if !ok {
			continue
		}
		out = append(out, schema.ToolDirective{
			ToolName: name,
			Input:    input,
			Source:   schema.DirectiveEmbedded,
			Raw:      stmt,
		})
	}
	return out
}

func dedupe(in []schema.ToolDirective) []schema.ToolDirective {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, d := range in {
		key := DirectiveKey(d)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	return out
}

// DirectiveKey is the identity of a directive: tool name plus serialized input.
func DirectiveKey(d schema.ToolDirective) string {
	b, err := json.Marshal(d.Input)
	if err != nil {
		return d.ToolName
	}
	return d.ToolName + "\x00" + string(b)
}

// SplitStatements splits tool_code text on newlines and semicolons that sit
// outside quotes and parentheses. Blank statements are dropped.
func SplitStatements(code string) []string {
	return splitTopLevel(code, func(c byte) bool { return c == '\n' || c == ';' })
}

// SplitArgs splits an argument list on top-level commas.
func SplitArgs(args string) []string {
	return splitTopLevel(args, func(c byte) bool { return c == ',' })
}

func splitTopLevel(s string, isSep func(byte) bool) []string {
	var (
		out   []string
		depth int
		quote byte
		start int
	)
	flush := func(end int) {
		if part := strings.TrimSpace(s[start:end]); part != "" {
			out = append(out, part)
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '"' || c == '\'':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			if depth > 0 {
				depth--
			}
		case depth == 0 && isSep(c):
			flush(i)
			start = i + 1
		}
	}
	flush(len(s))
	return out
}

// ParseToolCode parses one pseudo-call statement such as
// search(query="wifi", limit=3), optionally wrapped in print(...).
// Every argument must have the form key = value.
func ParseToolCode(stmt string) (string, map[string]any, bool) {
	stmt = strings.TrimSpace(stmt)
	loc := callStartRe.FindStringSubmatchIndex(stmt)
	if loc == nil {
		return "", nil, false
	}
	name := stmt[loc[2]:loc[3]]
	open := loc[1] - 1

	closeIdx := matchParen(stmt, open)
	if closeIdx < 0 || strings.TrimSpace(stmt[closeIdx+1:]) != "" {
		return "", nil, false
	}
	inner := stmt[open+1 : closeIdx]

	if name == "print" {
		return ParseToolCode(inner)
	}

	input := map[string]any{}
	for _, arg := range SplitArgs(inner) {
		m := argRe.FindStringSubmatch(arg)
		if m == nil || strings.HasPrefix(m[2], "=") {
			return "", nil, false
		}
		input[m[1]] = CoerceValue(m[2])
	}
	return name, input, true
}

// matchParen returns the index of the parenthesis closing the one at open,
// skipping quoted text, or -1.
func matchParen(s string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// CoerceValue converts a raw argument token: quoted text becomes a string,
// true/True/false/False a bool, an integer or decimal a number, anything
// else stays the raw token.
func CoerceValue(raw string) any {
	v := strings.TrimSpace(raw)
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return unescape(v[1 : len(v)-1])
	}
	switch v {
	case "true", "True":
		return true
	case "false", "False":
		return false
	}
	if numberRe.MatchString(v) {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return v
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '"', '\'', '\\':
				b.WriteByte(s[i+1])
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
