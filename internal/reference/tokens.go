package reference

import (
	"strings"

	"tenant_schema_guard/internal/schema"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokQuoted
	tokLiteral
	tokParen
	tokOther
)

type token struct {
	Kind  tokenKind
	Text  string
	Start int
	End   int
}

// upper returns the keyword spelling of a bare word and "" for anything else.
func (t token) upper() string {
	if t.Kind != tokWord {
		return ""
	}
	return strings.ToUpper(t.Text)
}

// tokenize splits a clause into words, quoted identifiers, literals,
// parenthesized groups and punctuation. Parenthesized groups are single tokens.
func tokenize(s string) ([]token, error) {
	var out []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '"' || c == '\'':
			j := i + 1
			for j < len(s) {
				if s[j] == c {
					if j+1 < len(s) && s[j+1] == c {
						j += 2
						continue
					}
					break
				}
				j++
			}
			if j >= len(s) {
				return nil, errUnterminated
			}
			kind := tokQuoted
			if c == '\'' {
				kind = tokLiteral
			}
			out = append(out, token{Kind: kind, Text: s[i : j+1], Start: i, End: j + 1})
			i = j + 1
		case c == '(':
			closeIdx, err := schema.MatchParen(s, i)
			if err != nil {
				return nil, err
			}
			out = append(out, token{Kind: tokParen, Text: s[i : closeIdx+1], Start: i, End: closeIdx + 1})
			i = closeIdx + 1
		case c == ')':
			return nil, schema.ErrUnbalanced
		case isWordByte(c):
			j := i
			for j < len(s) && isWordByte(s[j]) {
				j++
			}
			out = append(out, token{Kind: tokWord, Text: s[i:j], Start: i, End: j})
			i = j
		case c == ':' && i+1 < len(s) && s[i+1] == ':':
			out = append(out, token{Kind: tokOther, Text: "::", Start: i, End: i + 2})
			i += 2
		default:
			out = append(out, token{Kind: tokOther, Text: string(c), Start: i, End: i + 1})
			i++
		}
	}
	return out, nil
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c >= 0x80
}

// readName consumes a possibly qualified identifier starting at toks[i] and
// returns its raw text and the index after it.
func readName(src string, toks []token, i int) (string, int, bool) {
	if i >= len(toks) || (toks[i].Kind != tokWord && toks[i].Kind != tokQuoted) {
		return "", i, false
	}
	start := toks[i].Start
	end := toks[i].End
	i++
	for i+1 < len(toks) && toks[i].Text == "." && (toks[i+1].Kind == tokWord || toks[i+1].Kind == tokQuoted) {
		end = toks[i+1].End
		i += 2
	}
	return src[start:end], i, true
}

// parenBody strips the outer parentheses of a paren token.
func parenBody(t token) string {
	return strings.TrimSpace(t.Text[1 : len(t.Text)-1])
}

// objectName mimics how PostgreSQL chooses implicit constraint names,
// including its truncation to 63 bytes.
func objectName(table, columns, label string) string {
	const maxIdent = 63
	avail := maxIdent - len(label) - 1
	if columns != "" {
		avail--
	}
	t, c := table, columns
	for len(t)+len(c) > avail {
		if len(t) > len(c) {
			t = t[:len(t)-1]
		} else {
			c = c[:len(c)-1]
		}
	}
	if c == "" {
		return t + "_" + label
	}
	return t + "_" + c + "_" + label
}
