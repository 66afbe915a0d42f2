// Package address parses and canonicalizes free-text recipient lists.
package address

import (
	"net/mail"
	"strings"

	"github.com/jonc1987/fastmail/pkg/types"
)

// Parsed is a single validated recipient address.
type Parsed struct {
	// Address is the lower-cased addr-spec, e.g. "alice@example.com".
	Address string
	// Formatted preserves the display name: "Alice <alice@example.com>",
	// or the bare address when no name was given.
	Formatted string
}

// ParseAddresses splits a free-text address list into validated,
// canonicalized addresses. Invalid or empty entries are dropped.
func ParseAddresses(raw string) []Parsed {
	var out []Parsed
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addr, err := mail.ParseAddress(part)
		if err != nil {
			continue
		}
		lower := strings.ToLower(addr.Address)
		formatted := lower
		if addr.Name != "" {
			formatted = addr.Name + " <" + lower + ">"
		}
		out = append(out, Parsed{Address: lower, Formatted: formatted})
	}
	return out
}

// NormalizeRecipientList joins the valid formatted addresses in raw with
// ", ". It fails when no entry validates.
func NormalizeRecipientList(raw string) (string, error) {
	parsed := ParseAddresses(raw)
	if len(parsed) == 0 {
		return "", types.NewValidationError("to must include at least one valid email address")
	}
	formatted := make([]string, len(parsed))
	for i, p := range parsed {
		formatted[i] = p.Formatted
	}
	return strings.Join(formatted, ", "), nil
}

// Valid reports whether raw parses as a single well-formed address.
func Valid(raw string) bool {
	_, err := mail.ParseAddress(strings.TrimSpace(raw))
	return err == nil
}
