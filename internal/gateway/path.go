package gateway

import "strings"

// JoinUpstreamPath builds the absolute upstream URL for a logical path.
// The upstream layout is pinned to a single canonical shape:
//
//	<base without trailing slashes>/<prefix>/<logical path>
//
// Slash handling is deterministic: trailing slashes on base, surrounding
// slashes on prefix, and leading slashes on the logical path are all
// stripped, and duplicate slashes inside the logical path are collapsed.
// A query string on the logical path is preserved untouched.
func JoinUpstreamPath(base, prefix, logical string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(base, "/"))

	if p := strings.Trim(prefix, "/"); p != "" {
		sb.WriteByte('/')
		sb.WriteString(p)
	}

	path := logical
	query := ""
	if i := strings.IndexByte(logical, '?'); i >= 0 {
		path = logical[:i]
		query = logical[i:]
	}

	path = collapseSlashes(strings.TrimLeft(path, "/"))
	if path != "" {
		sb.WriteByte('/')
		sb.WriteString(path)
	}
	sb.WriteString(query)
	return sb.String()
}

func collapseSlashes(path string) string {
	if !strings.Contains(path, "//") {
		return path
	}
	var sb strings.Builder
	sb.Grow(len(path))
	prevSlash := false
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
