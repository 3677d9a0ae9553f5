package match

import (
	"sort"
	"strings"
)

const globMeta = "*?[{"

// DerivePrefix returns the literal text of pattern before its first
// unescaped glob metacharacter, with escapes removed.
//
//	"chrY/**/*.fa"   -> "chrY/"
//	"*.fa"           -> ""
//	"hg38/chrY.fa"   -> "hg38/chrY.fa"
//	"a\*b/*"         -> "a*b/"
func DerivePrefix(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c == '\\' && i+1 < len(pattern) {
			i++
			b.WriteByte(pattern[i])
			continue
		}
		if strings.IndexByte(globMeta, c) >= 0 {
			break
		}
		b.WriteByte(c)
	}
	return b.String()
}

// DerivePrefixes derives a prefix per pattern and drops prefixes already
// covered by a shorter one. The result is sorted; [""] means list everything.
func DerivePrefixes(patterns []string) []string {
	if len(patterns) == 0 {
		return nil
	}
	all := make([]string, 0, len(patterns))
	for _, p := range patterns {
		all = append(all, DerivePrefix(p))
	}
	sort.Strings(all)

	out := make([]string, 0, len(all))
	for _, p := range all {
		if len(out) > 0 && strings.HasPrefix(p, out[len(out)-1]) {
			continue
		}
		out = append(out, p)
	}
	return out
}
