// Package keyexpr derives wire-level keys from logical addresses and matches
// key expressions against each other.
//
// A key is a '/'-separated list of chunks. In an expression, "*" matches exactly
// one chunk and "**" matches any number of chunks, including none:
//
//	up/*/*/*/*/*/server/2002/0/2/7FFF   matches   up/client/10AB/1/1/0/server/2002/0/2/7FFF
//	up/**/server/**                     matches   the same key
package keyexpr

import (
	"fmt"
	"strings"

	"uprpc/uri"
)

const (
	Prefix     = "up"
	Separator  = "/"
	ChunkWild  = "*"
	DoubleWild = "**"
	emptyChunk = "{}"

	// DefaultAuthority stands in for the authority of local uris when no
	// other name is configured.
	DefaultAuthority = "local"
)

// KeyResolver derives the key a query for (source, sink) is published on.
// A nil sink yields placeholder chunks for the destination.
type KeyResolver interface {
	Key(source uri.UUri, sink *uri.UUri) string
}

// Resolver is the standard KeyResolver:
//
//	up/<authority>/<ue type>/<ue instance>/<major>/<resource>/<same five for the sink>
//
// Numbers are upper-case hex; wildcard fields become "*". Uris without an
// authority are local and get LocalAuthority.
type Resolver struct {
	LocalAuthority string
}

// NewResolver returns a Resolver substituting authority for local uris.
func NewResolver(authority string) *Resolver {
	return &Resolver{LocalAuthority: authority}
}

func (r *Resolver) Key(source uri.UUri, sink *uri.UUri) string {
	var b strings.Builder
	b.WriteString(Prefix)
	r.writeURI(&b, &source)
	r.writeURI(&b, sink)
	return b.String()
}

func (r *Resolver) writeURI(b *strings.Builder, u *uri.UUri) {
	if u == nil {
		for i := 0; i < 5; i++ {
			b.WriteString(Separator)
			b.WriteString(emptyChunk)
		}
		return
	}
	authority := u.AuthorityName
	if authority == "" {
		authority = r.LocalAuthority
	}
	b.WriteString(Separator)
	b.WriteString(authority)
	writeHex(b, uint32(u.EntityType()), u.HasWildcardEntityType())
	writeHex(b, uint32(u.EntityInstance()), u.HasWildcardEntityInstance())
	writeHex(b, u.UeVersionMajor, u.HasWildcardVersion())
	writeHex(b, u.ResourceID, u.HasWildcardResource())
}

func writeHex(b *strings.Builder, v uint32, wild bool) {
	b.WriteString(Separator)
	if wild {
		b.WriteString(ChunkWild)
		return
	}
	fmt.Fprintf(b, "%X", v)
}

// Intersects reports whether some key is matched by both expressions.
func Intersects(a, b string) bool {
	return intersect(strings.Split(a, Separator), strings.Split(b, Separator))
}

// intersect walks both chunk lists with a memo over (i, j), so expressions
// holding many "**" chunks stay polynomial.
func intersect(a, b []string) bool {
	const (
		unknown int8 = iota
		yes
		no
	)
	width := len(b) + 1
	memo := make([]int8, (len(a)+1)*width)

	var match func(i, j int) bool
	match = func(i, j int) bool {
		if i == len(a) || j == len(b) {
			return onlyDoubleWild(a[i:]) && onlyDoubleWild(b[j:])
		}
		if m := memo[i*width+j]; m != unknown {
			return m == yes
		}
		var ok bool
		switch {
		case a[i] == DoubleWild:
			// "**" either ends here or swallows b's next chunk
			ok = match(i+1, j) || match(i, j+1)
		case b[j] == DoubleWild:
			ok = match(i, j+1) || match(i+1, j)
		case a[i] == ChunkWild || b[j] == ChunkWild || a[i] == b[j]:
			ok = match(i+1, j+1)
		}
		if ok {
			memo[i*width+j] = yes
		} else {
			memo[i*width+j] = no
		}
		return ok
	}
	return match(0, 0)
}

func onlyDoubleWild(chunks []string) bool {
	for _, c := range chunks {
		if c != DoubleWild {
			return false
		}
	}
	return true
}

// Specificity counts the literal chunks of an expression. Among several
// expressions matching a key, the highest count is the best match.
func Specificity(expr string) int {
	n := 0
	for _, c := range strings.Split(expr, Separator) {
		if c != ChunkWild && c != DoubleWild {
			n++
		}
	}
	return n
}

// IsWild reports whether the expression contains a wildcard chunk.
func IsWild(expr string) bool {
	for _, c := range strings.Split(expr, Separator) {
		if c == ChunkWild || c == DoubleWild {
			return true
		}
	}
	return false
}

// Validate rejects empty chunks, chunks mixing wildcards with literals and
// repeated "**" chunks. "**/**" matches exactly what "**" does, so the
// repeated form is not canonical.
func Validate(expr string) error {
	if expr == "" {
		return fmt.Errorf("keyexpr: empty expression")
	}
	prev := ""
	for _, c := range strings.Split(expr, Separator) {
		if c == DoubleWild && prev == DoubleWild {
			return fmt.Errorf("keyexpr: %q repeats %q", expr, DoubleWild)
		}
		prev = c
		if c == "" {
			return fmt.Errorf("keyexpr: %q has an empty chunk", expr)
		}
		if c != ChunkWild && c != DoubleWild && strings.Contains(c, ChunkWild) {
			return fmt.Errorf("keyexpr: %q mixes wildcard and literal in chunk %q", expr, c)
		}
	}
	return nil
}
