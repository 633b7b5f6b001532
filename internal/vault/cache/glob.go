package cache

import "regexp"

// compileTagPattern turns spec.md §4.2's tag-search pattern language
// (literal, `*` any run, `?` single char, and therefore prefix/suffix as
// special cases of `*`) into a Go regexp, matched entirely in-process
// over the distinct tag set rather than built into a SQL LIKE clause —
// this sidesteps SQL injection by construction, since no user input ever
// reaches a query string.
func compileTagPattern(pattern string) (*regexp.Regexp, error) {
	out := make([]byte, 0, len(pattern)*2+2)
	out = append(out, '^')
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			out = append(out, '.', '*')
		case '?':
			out = append(out, '.')
		default:
			out = append(out, regexp.QuoteMeta(string(c))...)
		}
	}
	out = append(out, '$')
	return regexp.Compile(string(out))
}
