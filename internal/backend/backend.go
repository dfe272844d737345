// Package backend provides the RepoBackend implementations behind the
// abstraction in internal/store (spec §1, §5): an OCI registry-backed
// transport grounded on go-containerregistry, and a sideload (local
// directory mirror) transport for offline installs. Both additionally
// satisfy internal/remotestate's SummarySource so a transaction can build
// remote state without the engine ever touching registry or filesystem
// details directly.
package backend

import (
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/terassyi/depot/internal/store"
)

// objectTag renders the OCI tag an object of the given kind/hash is stored
// under within a remote's backing repository: one tag per content-addressed
// object, mirroring the two-level fan-out the local store.Store uses on
// disk but expressed as registry tags (which cannot contain '/').
func objectTag(kind store.Kind, h store.Hash) string {
	return fmt.Sprintf("obj-%s-%s", kind.String(), string(h))
}

// summaryTag is the well-known tag holding a remote's signed summary index.
const summaryTag = "summary"

// refTag is the tag under which a ref's current commit pointer is published
// (distinct from the object tags above, analogous to an OSTree branch ref).
func refTag(refString string) string {
	return "ref-" + sanitizeTag(refString)
}

func sanitizeTag(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}

func parseRepoRef(uri string) (name.Repository, error) {
	return name.NewRepository(uri)
}
