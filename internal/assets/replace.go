package assets

import (
	"cmp"
	"slices"
	"strings"
)

// replacer performs literal text substitution. Keys match on word
// boundaries and a match directly followed by "." is left alone, so
// replacing process.env never touches process.env.NODE_ENV. A rejected
// match does not consume its text: a shorter or overlapping key may still
// match inside it.
type replacer struct {
	keys   []string
	values map[string]string
}

func newReplacer(values map[string]string) *replacer {
	if len(values) == 0 {
		return nil
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	// longest first so overlapping keys prefer the most specific match
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})

	return &replacer{keys: keys, values: values}
}

// Replace returns src with every match substituted and the number of
// substitutions made.
func (r *replacer) Replace(src string) (string, int) {
	if r == nil || !slices.ContainsFunc(r.keys, func(k string) bool { return strings.Contains(src, k) }) {
		return src, 0
	}

	var b strings.Builder
	b.Grow(len(src))

	n, last := 0, 0
	for i := 0; i < len(src); {
		key, ok := r.match(src, i)
		if !ok {
			i++
			continue
		}
		b.WriteString(src[last:i])
		b.WriteString(r.values[key])
		i += len(key)
		last = i
		n++
	}
	if n == 0 {
		return src, 0
	}
	b.WriteString(src[last:])

	return b.String(), n
}

// match returns the first key, longest first, that matches at i.
func (r *replacer) match(src string, i int) (string, bool) {
	if !boundary(src, i) {
		return "", false
	}
	for _, key := range r.keys {
		end := i + len(key)
		if !strings.HasPrefix(src[i:], key) || !boundary(src, end) {
			continue
		}
		if end < len(src) && src[end] == '.' {
			continue
		}
		return key, true
	}
	return "", false
}

// boundary mirrors the regexp \b assertion at byte offset i.
func boundary(src string, i int) bool {
	before := i > 0 && isWordByte(src[i-1])
	after := i < len(src) && isWordByte(src[i])
	return before != after
}

func isWordByte(c byte) bool {
	return c == '_' || '0' <= c && c <= '9' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}
