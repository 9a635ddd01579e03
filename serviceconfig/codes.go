package serviceconfig

import (
	"fmt"
	"strings"
	"unicode"

	"google.golang.org/grpc/codes"
)

// CanonicalCodeString returns the canonical service config string for a gRPC status code.
// It transforms from camel case notation to a canonical string representation.
// For example:
// Unavailable -> UNAVAILABLE
// DeadlineExceeded -> DEADLINE_EXCEEDED
func CanonicalCodeString(c codes.Code) string {
	if c == codes.OK {
		return "OK"
	}

	var b strings.Builder
	name := c.String()

	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) &&
			(unicode.IsLower(rune(name[i-1])) || (i+1 < len(name) && unicode.IsLower(rune(name[i+1])))) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}

	return b.String()
}

// codeByCanonicalName maps every canonical status string to its code.
var codeByCanonicalName = func() map[string]codes.Code {
	m := make(map[string]codes.Code)
	for c := codes.OK; c <= codes.Unauthenticated; c++ {
		m[CanonicalCodeString(c)] = c
	}
	return m
}()

// CodeFromCanonicalString parses a canonical status string (e.g. "UNAVAILABLE")
// back into its gRPC status code.
func CodeFromCanonicalString(name string) (codes.Code, error) {
	c, ok := codeByCanonicalName[name]
	if !ok {
		return codes.Unknown, fmt.Errorf("unknown status code name %q", name)
	}
	return c, nil
}
