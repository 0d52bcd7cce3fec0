// Package dsonurl parses the URL form used by DSON assets to reference nodes
// and properties: [scheme:][/path][#fragment][?query].
//
// Note that the fragment comes before the query, the reverse of RFC 3986.
// Each part is kept in its escaped form, and accessors decode on demand.
package dsonurl

import (
	"strings"
)

// URL is a parsed DSON URL. The zero value is an empty URL.
type URL struct {
	scheme   string
	path     string
	fragment string
	query    string
}

func isSchemeChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '+' || c == '-' || c == '.' || c == '_' || c == '%' || c == '/' || c == '~':
		return true
	}
	return false
}

// Parse splits s into its escaped parts. Parsing never fails: anything that
// doesn't look like a scheme is treated as part of the path.
func Parse(s string) URL {
	var u URL
	if i := strings.IndexByte(s, ':'); i > 0 {
		isScheme := true
		for j := 0; j < i; j++ {
			if !isSchemeChar(s[j]) {
				isScheme = false
				break
			}
		}
		if isScheme {
			u.scheme, s = s[:i], s[i+1:]
		}
	}
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s, u.query = s[:i], s[i+1:]
	}
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s, u.fragment = s[:i], s[i+1:]
	}
	u.path = s
	return u
}

func (u URL) Scheme() string   { return Unescape(u.scheme) }
func (u URL) Path() string     { return Unescape(u.path) }
func (u URL) Fragment() string { return Unescape(u.fragment) }
func (u URL) Query() string    { return Unescape(u.query) }

func (u URL) EscapedScheme() string   { return u.scheme }
func (u URL) EscapedPath() string     { return u.path }
func (u URL) EscapedFragment() string { return u.fragment }
func (u URL) EscapedQuery() string    { return u.query }

// SetScheme stores v, escaping it.
func (u *URL) SetScheme(v string)   { u.scheme = Escape(v) }
func (u *URL) SetPath(v string)     { u.path = Escape(v) }
func (u *URL) SetFragment(v string) { u.fragment = Escape(v) }
func (u *URL) SetQuery(v string)    { u.query = Escape(v) }

// SetEscapedScheme stores v verbatim.
func (u *URL) SetEscapedScheme(v string)   { u.scheme = v }
func (u *URL) SetEscapedPath(v string)     { u.path = v }
func (u *URL) SetEscapedFragment(v string) { u.fragment = v }
func (u *URL) SetEscapedQuery(v string)    { u.query = v }

// IsEmpty reports whether no part is set.
func (u URL) IsEmpty() bool {
	return u.scheme == "" && u.path == "" && u.fragment == "" && u.query == ""
}

// String reassembles the escaped parts.
func (u URL) String() string {
	var b strings.Builder
	if u.scheme != "" {
		b.WriteString(u.scheme)
		b.WriteByte(':')
	}
	b.WriteString(u.path)
	if u.fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.fragment)
	}
	if u.query != "" {
		b.WriteByte('?')
		b.WriteString(u.query)
	}
	return b.String()
}

// AssetID returns the canonical id of the asset a URL points at: the
// re-escaped, lowercased path and the re-escaped fragment. Two URLs that
// differ only in escaping or path case produce the same id.
func AssetID(u URL) string {
	path := Escape(Unescape(u.path))
	fragment := Escape(Unescape(u.fragment))
	return strings.ToLower(path) + "#" + fragment
}

// AssetIDString parses s and returns its AssetID.
func AssetIDString(s string) string {
	return AssetID(Parse(s))
}
