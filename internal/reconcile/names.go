package reconcile

import (
	"fmt"

	"etfwatch/internal/models"
)

// NameResolver finds display names for instrument codes.
type NameResolver struct {
	fromData map[string]string
	fallback map[string]string
}

// NewNameResolver indexes the most recent non-empty name of every code in
// histories. fallback is consulted for codes without one.
func NewNameResolver(fallback map[string]string, histories ...models.FundHistory) *NameResolver {
	r := &NameResolver{fromData: make(map[string]string), fallback: fallback}
	for _, h := range histories {
		for i := len(h.Snapshots) - 1; i >= 0; i-- {
			for code, holding := range h.Snapshots[i].Holdings {
				if holding.Name == "" {
					continue
				}
				if _, ok := r.fromData[code]; !ok {
					r.fromData[code] = holding.Name
				}
			}
		}
	}
	return r
}

// Resolve returns name when set, otherwise the indexed or fallback name,
// otherwise "(code)".
func (r *NameResolver) Resolve(code, name string) string {
	if name != "" {
		return name
	}
	if n := r.Lookup(code); n != "" {
		return n
	}
	return fmt.Sprintf("(%s)", code)
}

// Lookup returns the indexed or fallback name of code, or "" when neither
// knows it.
func (r *NameResolver) Lookup(code string) string {
	if n, ok := r.fromData[code]; ok {
		return n
	}
	return r.fallback[code]
}

// IsNumericCode reports whether code is a non-empty run of ASCII digits.
func IsNumericCode(code string) bool {
	if code == "" {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
