package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var typeAliases = map[string]string{
	"int":         "integer",
	"int4":        "integer",
	"integer":     "integer",
	"int8":        "bigint",
	"bigint":      "bigint",
	"int2":        "smallint",
	"smallint":    "smallint",
	"serial":      "integer",
	"serial4":     "integer",
	"bigserial":   "bigint",
	"serial8":     "bigint",
	"smallserial": "smallint",
	"serial2":     "smallint",
	"bool":        "boolean",
	"boolean":     "boolean",
	"float8":      "double precision",
	"float":       "double precision",
	"float4":      "real",
	"real":        "real",
	"decimal":     "numeric",
	"numeric":     "numeric",
	"varchar":     "character varying",
	"char":        "character",
	"bpchar":      "character",
	"character":   "character",
	"timestamptz": "timestamp with time zone",
	"timestamp":   "timestamp without time zone",
	"timetz":      "time with time zone",
	"time":        "time without time zone",
	"varbit":      "bit varying",
}

var serialTypes = map[string]bool{
	"serial": true, "serial4": true, "bigserial": true, "serial8": true, "smallserial": true, "serial2": true,
}

var (
	spaceRun = regexp.MustCompile(`\s+`)
	typeMod  = regexp.MustCompile(`^(.*?)\s*\(([^)]*)\)(.*)$`)
)

// CanonicalType maps a declared or catalog-reported type to the spelling
// format_type() produces. The second result reports serial pseudo-types.
func CanonicalType(raw string) (string, bool) {
	t := strings.ToLower(strings.TrimSpace(spaceRun.ReplaceAllString(raw, " ")))
	t = strings.ReplaceAll(t, `"`, "")
	array := ""
	for strings.HasSuffix(t, "[]") {
		array += "[]"
		t = strings.TrimSpace(strings.TrimSuffix(t, "[]"))
	}
	if strings.HasPrefix(t, "public.") {
		t = strings.TrimPrefix(t, "public.")
	}

	base, mod, tail := t, "", ""
	if m := typeMod.FindStringSubmatch(t); m != nil {
		base = strings.TrimSpace(m[1])
		mod = "(" + strings.ReplaceAll(strings.TrimSpace(m[2]), " ", "") + ")"
		tail = strings.TrimSpace(m[3])
	}
	if tail != "" {
		base = base + " " + tail
	}

	serial := serialTypes[base]
	switch base {
	case "timestamp with time zone", "timestamptz":
		return "timestamp" + mod + " with time zone" + array, serial
	case "timestamp without time zone", "timestamp":
		return "timestamp" + mod + " without time zone" + array, serial
	case "time with time zone", "timetz":
		return "time" + mod + " with time zone" + array, serial
	case "time without time zone", "time":
		return "time" + mod + " without time zone" + array, serial
	}
	if alias, ok := typeAliases[base]; ok {
		base = alias
	}
	return base + mod + array, serial
}

var (
	castPattern = regexp.MustCompile(`::\s*(timestamp(\s+with(out)?\s+time\s+zone)?|time(\s+with(out)?\s+time\s+zone)?|character\s+varying|double\s+precision|bit\s+varying|[a-z_][a-z0-9_.]*)(\s*\(\s*\d+(\s*,\s*\d+)?\s*\))?(\s*\[\])*`)
	anyArray    = regexp.MustCompile(`=\s*any\s*\(\s*array\s*\[([^\]]*)\]\s*\)`)
	punctSpace  = regexp.MustCompile(`\s*([^a-z0-9_\s\x01\x02])\s*`)
	noAction    = regexp.MustCompile(`\s+(on\s+(delete|update)\s+no\s+action|match\s+simple)`)
	literalMark = regexp.MustCompile("\x01(\\d+)\x02")
)

// CanonicalExpr reduces an SQL expression or definition to a comparable form:
// identifiers and keywords are lower-cased, quoting, casts, redundant
// parentheses and schema qualification are removed. String literals are kept
// verbatim.
func CanonicalExpr(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	var (
		code     strings.Builder
		literals []string
	)
	runes := []rune(raw)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\'' {
			j := i + 1
			for j < len(runes) {
				if runes[j] == '\'' {
					if j+1 < len(runes) && runes[j+1] == '\'' {
						j += 2
						continue
					}
					break
				}
				j++
			}
			if j >= len(runes) {
				j = len(runes) - 1
			}
			literals = append(literals, string(runes[i:j+1]))
			fmt.Fprintf(&code, " \x01%d\x02 ", len(literals)-1)
			i = j
			continue
		}
		switch {
		case r == '"':
		case r == '\n' || r == '\t' || r == '\r':
			code.WriteRune(' ')
		default:
			code.WriteString(strings.ToLower(string(r)))
		}
	}

	out := code.String()
	out = castPattern.ReplaceAllString(out, "")
	out = anyArray.ReplaceAllString(out, " in ($1)")
	out = noAction.ReplaceAllString(out, "")
	out = strings.ReplaceAll(out, "public.", "")
	out = strings.NewReplacer("(", " ", ")", " ").Replace(out)
	out = spaceRun.ReplaceAllString(out, " ")
	out = punctSpace.ReplaceAllString(out, "$1")
	out = strings.TrimSpace(out)

	return literalMark.ReplaceAllStringFunc(out, func(m string) string {
		idx, err := strconv.Atoi(literalMark.FindStringSubmatch(m)[1])
		if err != nil || idx >= len(literals) {
			return m
		}
		return literals[idx]
	})
}

// CanonicalDefault normalizes a column default. Sequence defaults collapse to
// a marker because their sequence names are tenant-specific.
func CanonicalDefault(raw string) string {
	c := CanonicalExpr(raw)
	if strings.HasPrefix(c, "nextval") {
		return "nextval"
	}
	return c
}

// CanonicalRoles sorts and lower-cases a policy role list. An empty list means
// PUBLIC, which is also what the catalog reports for policies without TO.
func CanonicalRoles(roles []string) string {
	set := map[string]struct{}{}
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		set[Ident(r)] = struct{}{}
	}
	if len(set) == 0 {
		return "public"
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// CanonicalCommand normalizes a policy command; an omitted FOR clause is ALL.
func CanonicalCommand(cmd string) string {
	cmd = strings.ToLower(strings.TrimSpace(cmd))
	if cmd == "" || cmd == "*" {
		return "all"
	}
	return cmd
}

// Bool renders a boolean attribute value.
func Bool(b bool) string {
	return strconv.FormatBool(b)
}
