package reference

import (
	"strings"
)

// statement is one top-level SQL statement with comments stripped.
type statement struct {
	Text string
	Line int
}

// splitStatements splits SQL text on top-level semicolons. It understands
// single and double quotes, dollar-quoted bodies and both comment styles, so a
// function body or a ';' inside a literal never ends a statement.
func splitStatements(sqlText string) ([]statement, error) {
	var (
		out       []statement
		current   strings.Builder
		line      = 1
		startLine = 0
		inSingle  bool
		inDouble  bool
		dollarTag string
	)

	flush := func() {
		text := strings.TrimSpace(current.String())
		if text != "" {
			out = append(out, statement{Text: text, Line: startLine})
		}
		current.Reset()
		startLine = 0
	}
	write := func(s string) {
		if startLine == 0 && strings.TrimSpace(s) != "" {
			startLine = line
		}
		current.WriteString(s)
	}

	src := sqlText
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c == '\n' {
			line++
		}
		switch {
		case dollarTag != "":
			if c == '$' && strings.HasPrefix(src[i:], dollarTag) {
				write(dollarTag)
				i += len(dollarTag) - 1
				dollarTag = ""
				continue
			}
			current.WriteByte(c)
		case inSingle:
			current.WriteByte(c)
			if c == '\'' {
				inSingle = false
			}
		case inDouble:
			current.WriteByte(c)
			if c == '"' {
				inDouble = false
			}
		case c == '\'':
			write("'")
			inSingle = true
		case c == '"':
			write(`"`)
			inDouble = true
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				i = len(src)
				continue
			}
			i += end - 1
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, &ParseError{Line: line, Reason: "unterminated block comment"}
			}
			line += strings.Count(src[i:i+2+end], "\n")
			i += end + 3
			current.WriteByte(' ')
		case c == '$':
			if tag, ok := dollarQuoteTag(src[i:]); ok {
				write(tag)
				dollarTag = tag
				i += len(tag) - 1
				continue
			}
			current.WriteByte(c)
		case c == ';':
			flush()
		default:
			write(string(c))
		}
	}

	switch {
	case inSingle:
		return nil, &ParseError{Line: line, Statement: abbreviate(current.String()), Reason: "unterminated string literal"}
	case inDouble:
		return nil, &ParseError{Line: line, Statement: abbreviate(current.String()), Reason: "unterminated quoted identifier"}
	case dollarTag != "":
		return nil, &ParseError{Line: line, Statement: abbreviate(current.String()), Reason: "unterminated dollar-quoted body " + dollarTag}
	}
	flush()
	return out, nil
}

// dollarQuoteTag recognizes $$ and $tag$ openers at the start of s.
func dollarQuoteTag(s string) (string, bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", false
	}
	for j := 1; j < len(s); j++ {
		c := s[j]
		if c == '$' {
			return s[:j+1], true
		}
		isIdent := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (j > 1 && c >= '0' && c <= '9')
		if !isIdent {
			return "", false
		}
	}
	return "", false
}

func abbreviate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}
