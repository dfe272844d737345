package main

import (
	"strings"

	"github.com/terassyi/depot/internal/installation"
	"github.com/terassyi/depot/internal/ref"
)

// splitRefKey mirrors installation's own unexported ref-key parsing
// (deploy.go) and internal/repair's local copy of the same logic, so this
// package can enumerate installed refs without reaching into another
// package's internals.
func splitRefKey(key string) (remote, refName string, ok bool) {
	const remotesPrefix = "remotes/"
	const headsPrefix = "heads/"
	if strings.HasPrefix(key, remotesPrefix) {
		rest := strings.TrimPrefix(key, remotesPrefix)
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			return "", "", false
		}
		return parts[0], parts[1], true
	}
	if strings.HasPrefix(key, headsPrefix) {
		return "", strings.TrimPrefix(key, headsPrefix), true
	}
	return "", "", false
}

// installedRefs enumerates every distinct ref named by a ref entry in the
// installation's store; it does not check that the ref has a deployment.
func installedRefs(inst *installation.Installation) ([]ref.Ref, error) {
	raw, err := inst.Store().ListRefs("")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []ref.Ref
	for key := range raw {
		_, name, ok := splitRefKey(key)
		if !ok {
			continue
		}
		r, err := ref.Parse(name)
		if err != nil {
			continue
		}
		if seen[r.Hash()] {
			continue
		}
		seen[r.Hash()] = true
		out = append(out, r)
	}
	return out, nil
}

// unpinnedRefs filters refs down to those not in the installation's pinned
// set (spec §6 "uninstall --unused computes the complement of reachable
// refs modulo pinned set").
func unpinnedRefs(inst *installation.Installation, refs []ref.Ref) ([]ref.Ref, error) {
	pinned, err := inst.ListPinnedRefs()
	if err != nil {
		return nil, err
	}
	pinnedSet := make(map[string]bool, len(pinned))
	for _, p := range pinned {
		pinnedSet[p.Hash()] = true
	}
	var out []ref.Ref
	for _, r := range refs {
		if !pinnedSet[r.Hash()] {
			out = append(out, r)
		}
	}
	return out, nil
}

// refPartial turns an exact ref back into a Partial predicate (used to
// drive AddUninstall from an enumerated ref).
func refPartial(r ref.Ref, kind *ref.Kind) ref.Partial {
	return ref.Partial{Kind: kind, ID: r.ID(), Arch: r.Arch(), Branch: r.Branch()}
}
