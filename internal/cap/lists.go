package cap

import (
	"strings"
	"unicode"
)

// joinQuoted renders a CAP whitespace-delimited list, double-quoting any
// item that itself contains whitespace.
func joinQuoted(items []string) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if strings.ContainsFunc(it, unicode.IsSpace) {
			it = `"` + it + `"`
		}
		parts = append(parts, it)
	}
	return strings.Join(parts, " ")
}

// splitQuoted is the inverse of joinQuoted.
func splitQuoted(s string) []string {
	var (
		items  []string
		cur    strings.Builder
		quoted bool
		inItem bool
	)
	flush := func() {
		if inItem {
			items = append(items, cur.String())
		}
		cur.Reset()
		inItem = false
	}
	for _, r := range s {
		switch {
		case r == '"':
			if quoted {
				quoted = false
				flush()
			} else {
				flush()
				quoted = true
				inItem = true
			}
		case unicode.IsSpace(r) && !quoted:
			flush()
		default:
			cur.WriteRune(r)
			inItem = true
		}
	}
	flush()
	return items
}

func joinReferences(refs []Reference) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.String()
	}
	return strings.Join(parts, " ")
}

func splitReferences(s string) ([]Reference, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, nil
	}
	refs := make([]Reference, 0, len(fields))
	for _, f := range fields {
		r, err := ParseReference(f)
		if err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, nil
}

// CAP <code> elements are plain strings; a keyed code travels as key=value.
func formatCode(kv KeyValue) string {
	if kv.Key == "" {
		return kv.Value
	}
	return kv.Key + "=" + kv.Value
}

func parseCode(s string) KeyValue {
	if k, v, ok := strings.Cut(s, "="); ok && k != "" && !strings.ContainsFunc(k, unicode.IsSpace) {
		return KeyValue{Key: k, Value: v}
	}
	return KeyValue{Value: s}
}
