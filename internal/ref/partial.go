package ref

import (
	"strings"

	"github.com/terassyi/depot/internal/depoterr"
)

// Partial is a partial ref argument (spec §4.1): the same shape as Ref but
// with any trailing components optional. Parsing a Partial never fails on
// missing trailing components; it only validates components that are
// present.
type Partial struct {
	Kind   *Kind
	ID     string
	Arch   string
	Branch string
}

// ParsePartial parses a "kind[/id[/arch[/branch]]]" string into a Partial
// predicate, used by the resolver to fan out matches over installed or
// remote-published refs.
func ParsePartial(s string) (Partial, error) {
	parts := strings.Split(s, "/")
	var p Partial
	if len(parts) >= 1 && parts[0] != "" {
		k, ok := parseKind(parts[0])
		if !ok {
			return Partial{}, depoterr.New(depoterr.CodeInvalidRef, "unknown kind").WithDetail("kind", parts[0])
		}
		p.Kind = &k
	}
	if len(parts) >= 2 {
		p.ID = parts[1]
	}
	if len(parts) >= 3 {
		p.Arch = parts[2]
	}
	if len(parts) >= 4 {
		p.Branch = parts[3]
	}
	if p.ID != "" && !componentPattern.MatchString(p.ID) {
		return Partial{}, depoterr.New(depoterr.CodeInvalidRef, "invalid id component").WithDetail("id", p.ID)
	}
	if p.Arch != "" && !componentPattern.MatchString(p.Arch) {
		return Partial{}, depoterr.New(depoterr.CodeInvalidRef, "invalid arch component").WithDetail("arch", p.Arch)
	}
	if p.Branch != "" && !branchPattern.MatchString(p.Branch) {
		return Partial{}, depoterr.New(depoterr.CodeInvalidBranch, "invalid branch component").WithDetail("branch", p.Branch)
	}
	return p, nil
}

// Matches reports whether r satisfies every component the partial ref
// specifies; absent components match anything.
func (p Partial) Matches(r Ref) bool {
	if p.Kind != nil && *p.Kind != r.Kind() {
		return false
	}
	if p.ID != "" && p.ID != r.ID() {
		return false
	}
	if p.Arch != "" && p.Arch != r.Arch() {
		return false
	}
	if p.Branch != "" && p.Branch != r.Branch() {
		return false
	}
	return true
}

// IsExact reports whether the partial ref fully specifies a ref (all four
// components present), in which case it denotes exactly one identity.
func (p Partial) IsExact() bool {
	return p.Kind != nil && p.ID != "" && p.Arch != "" && p.Branch != ""
}
