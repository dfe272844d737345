package main

import (
	"strings"

	"github.com/terassyi/depot/internal/ref"
)

// parseRefArg turns a CLI ref argument into a ref.Partial predicate
// (spec §4.1, §4.5 contract 1). A "kind/id/arch/branch" form is parsed
// componentwise via ref.ParsePartial; a bare id (no slash) is the common
// CLI shape ("install org.acme.Draw") and is left kind-ambiguous unless
// kindOverride (from --app/--runtime) pins it.
func parseRefArg(arg string, kindOverride *ref.Kind) (ref.Partial, error) {
	if strings.Contains(arg, "/") {
		p, err := ref.ParsePartial(arg)
		if err != nil {
			return ref.Partial{}, err
		}
		if p.Kind == nil && kindOverride != nil {
			p.Kind = kindOverride
		}
		return p, nil
	}
	return ref.Partial{Kind: kindOverride, ID: arg}, nil
}

func kindOverrideFrom(appOnly, runtimeOnly bool) *ref.Kind {
	switch {
	case appOnly:
		k := ref.KindApp
		return &k
	case runtimeOnly:
		k := ref.KindRuntime
		return &k
	default:
		return nil
	}
}
