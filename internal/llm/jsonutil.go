package llm

import (
	"regexp"
	"strings"
)

var (
	fencedObject    = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	bareObject      = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	fencedArray     = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\[.*\\])\\s*```")
	bareArray       = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
	trailingComma   = regexp.MustCompile(`,\s*([}\]])`)
	fencedCodeBlock = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\s*\\n(.*?)```")
)

// ExtractJSON returns the JSON object in a model answer, preferring a fenced
// block. Line comments and trailing commas are removed. It returns "" when
// the answer holds no object.
func ExtractJSON(content string) string {
	if m := fencedObject.FindStringSubmatch(content); len(m) > 1 {
		return cleanJSON(m[1])
	}
	if m := bareObject.FindString(content); m != "" {
		return cleanJSON(m)
	}
	return ""
}

// ExtractJSONArray is ExtractJSON for arrays.
func ExtractJSONArray(content string) string {
	if m := fencedArray.FindStringSubmatch(content); len(m) > 1 {
		return cleanJSON(m[1])
	}
	if m := bareArray.FindString(content); m != "" {
		return cleanJSON(m)
	}
	return ""
}

// ExtractCodeBlock returns the body of the first fenced code block, or the
// trimmed content when there is none.
func ExtractCodeBlock(content string) string {
	if m := fencedCodeBlock.FindStringSubmatch(content); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(content)
}

func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return trailingComma.ReplaceAllString(strings.Join(lines, "\n"), "$1")
}

// stripLineComment drops a trailing // comment that is outside any string
// literal, so URLs inside values survive.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}

	inString, escaped := false, false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/':
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
