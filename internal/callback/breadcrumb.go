package callback

import "strings"

// Join appends breadcrumb tokens to primary with OuterSep. With no others,
// primary is returned unchanged. Join never truncates; use JoinWithin when
// the result must fit a transport limit.
func Join(primary string, others ...string) string {
	if len(others) == 0 {
		return primary
	}
	n := len(primary)
	for _, o := range others {
		n += len(OuterSep) + len(o)
	}
	var b strings.Builder
	b.Grow(n)
	b.WriteString(primary)
	for _, o := range others {
		b.WriteString(OuterSep)
		b.WriteString(o)
	}
	return b.String()
}

// Split separates a joined token into the primary token and the opaque
// remainder. Only the first OuterSep is significant.
func Split(joined string) (primary, rest string) {
	primary, rest, _ = strings.Cut(joined, OuterSep)
	return primary, rest
}

// JoinWithin is Join bounded to limit bytes. Others may themselves be joined
// chains; they are flattened and the deepest tokens are dropped first until
// the result fits. The primary token is never cut, so it is returned alone
// (possibly still over limit) when nothing else fits. A limit <= 0 means
// unbounded.
func JoinWithin(limit int, primary string, others ...string) string {
	var kept []string
	for _, o := range others {
		for _, tok := range strings.Split(o, OuterSep) {
			if tok != "" {
				kept = append(kept, tok)
			}
		}
	}
	if limit <= 0 {
		return Join(primary, kept...)
	}
	for n := len(kept); n >= 0; n-- {
		s := Join(primary, kept[:n]...)
		if len(s) <= limit {
			return s
		}
	}
	return primary
}
