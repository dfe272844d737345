package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sigstore/sigstore-go/pkg/bundle"
	"github.com/sigstore/sigstore-go/pkg/root"
	sgverify "github.com/sigstore/sigstore-go/pkg/verify"

	"github.com/terassyi/depot/internal/remotestate"
	"github.com/terassyi/depot/internal/store"
)

// Sideload is a RepoBackend reading from a local directory mirror of a
// remote's objects and summary (spec §4.4's sideload fallback, for an
// offline install from a pre-synced directory or removable media). It
// shares the same two-level fan-out layout as a local store.Store, so a
// sideload directory is itself just another installation's objects/ tree.
type Sideload struct {
	Dir string

	// TrustedRootPath, when set, points at a locally pinned sigstore
	// trusted-root snapshot (as produced by `cosign trusted-root export`)
	// used by Verify when the live Fulcio/Rekor root is unreachable —
	// satisfies remotestate.SideloadKeyring.
	TrustedRootPath string
}

func NewSideload(dir, trustedRootPath string) *Sideload {
	return &Sideload{Dir: dir, TrustedRootPath: trustedRootPath}
}

func (s *Sideload) objectPath(kind store.Kind, h store.Hash) string {
	hs := string(h)
	if len(hs) < 3 {
		return filepath.Join(s.Dir, "objects", hs)
	}
	return filepath.Join(s.Dir, "objects", hs[:2], hs[2:]+"."+kind.Extension())
}

func (s *Sideload) refPath(refString string) string {
	return filepath.Join(s.Dir, "refs", filepath.FromSlash(refString))
}

// ResolveRef implements store.RepoBackend.
func (s *Sideload) ResolveRef(ctx context.Context, remote, refString string) (store.Hash, error) {
	data, err := os.ReadFile(s.refPath(refString))
	if err != nil {
		return "", fmt.Errorf("resolve sideload ref %s: %w", refString, err)
	}
	return store.Hash(bytes.TrimSpace(data)), nil
}

// FetchObject implements store.RepoBackend.
func (s *Sideload) FetchObject(ctx context.Context, remote string, kind store.Kind, h store.Hash) (io.ReadCloser, error) {
	f, err := os.Open(s.objectPath(kind, h))
	if err != nil {
		return nil, fmt.Errorf("fetch sideload object %s/%s: %w", kind, h, err)
	}
	return f, nil
}

// FetchStaticDelta implements store.RepoBackend: sideload directories never
// publish deltas, so this always falls back to per-object fetches.
func (s *Sideload) FetchStaticDelta(ctx context.Context, remote string, from, to store.Hash) (io.ReadCloser, bool, error) {
	return nil, false, nil
}

// ApplyStaticDelta implements store.RepoBackend; never called since
// FetchStaticDelta always reports ok=false.
func (s *Sideload) ApplyStaticDelta(ctx context.Context, dst *store.Store, r io.Reader) error {
	return fmt.Errorf("sideload backend does not publish static deltas")
}

// FetchSummary implements remotestate.SummarySource.
func (s *Sideload) FetchSummary(ctx context.Context, r remotestate.Remote) ([]byte, []byte, error) {
	raw, err := os.ReadFile(filepath.Join(s.Dir, "summary.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("read sideload summary: %w", err)
	}
	sigBundle, err := os.ReadFile(filepath.Join(s.Dir, "summary.sig"))
	if err != nil {
		if os.IsNotExist(err) {
			return raw, nil, nil
		}
		return nil, nil, err
	}
	return raw, sigBundle, nil
}

// ParseSummary implements remotestate.SummarySource.
func (s *Sideload) ParseSummary(raw []byte) (map[string]remotestate.RefMeta, map[string]remotestate.SparseEntry, error) {
	var doc summaryDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse sideload summary: %w", err)
	}
	return doc.Refs, doc.Sparse, nil
}

// Verify implements remotestate.SideloadKeyring: it checks the summary's
// signature against a locally pinned trusted-root snapshot instead of
// fetching Fulcio/Rekor's live root, the same verification shape as
// internal/remotestate's network path but bound to offline trust material.
func (s *Sideload) Verify(raw, sigBundle []byte) error {
	if s.TrustedRootPath == "" {
		return fmt.Errorf("no sideload trusted root configured")
	}
	tr, err := root.NewTrustedRootFromPath(s.TrustedRootPath)
	if err != nil {
		return fmt.Errorf("load sideload trusted root: %w", err)
	}
	verifier, err := sgverify.NewVerifier(tr,
		sgverify.WithSignedCertificateTimestamps(1),
		sgverify.WithTransparencyLog(1),
		sgverify.WithIntegratedTimestamps(1),
	)
	if err != nil {
		return fmt.Errorf("build sideload verifier: %w", err)
	}

	var b bundle.Bundle
	if err := b.UnmarshalJSON(sigBundle); err != nil {
		return fmt.Errorf("parse sideload signature bundle: %w", err)
	}

	identity, err := sgverify.NewShortCertificateIdentity("", "", "", ".*")
	if err != nil {
		return fmt.Errorf("build sideload certificate identity: %w", err)
	}

	_, err = verifier.Verify(&b, sgverify.NewPolicy(
		sgverify.WithArtifact(bytes.NewReader(raw)),
		sgverify.WithCertificateIdentity(identity),
	))
	if err != nil {
		return fmt.Errorf("sideload signature verification failed: %w", err)
	}
	return nil
}
