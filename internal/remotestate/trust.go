package remotestate

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/sigstore/sigstore-go/pkg/bundle"
	"github.com/sigstore/sigstore-go/pkg/root"
	sgverify "github.com/sigstore/sigstore-go/pkg/verify"

	"github.com/terassyi/depot/internal/depoterr"
)

// SummarySource fetches a remote's signed summary blob plus per-ref
// metadata and sparse-cache entries. internal/backend's OCI and sideload
// implementations satisfy this.
type SummarySource interface {
	FetchSummary(ctx context.Context, remote Remote) (raw []byte, sigBundle []byte, err error)
	ParseSummary(raw []byte) (map[string]RefMeta, map[string]SparseEntry, error)
}

// SideloadKeyring verifies a summary's signature against a sideload's own
// key set, used when sideload mode is active and the network's trusted
// root is unavailable (spec §4.4).
type SideloadKeyring interface {
	Verify(raw, sigBundle []byte) error
}

// trustedRootFetcher is satisfied by root.NewLiveTrustedRoot, extracted so
// tests can substitute a fake root without a network call.
type trustedRootFetcher func() (*root.LiveTrustedRoot, error)

var (
	trustedRootOnce sync.Once
	trustedRoot     *root.LiveTrustedRoot
	trustedRootErr  error
)

func defaultTrustedRoot() (*root.LiveTrustedRoot, error) {
	trustedRootOnce.Do(func() {
		trustedRoot, trustedRootErr = root.NewLiveTrustedRoot(nil)
	})
	return trustedRoot, trustedRootErr
}

// Build constructs the immutable remote state for a transaction: fetches
// the signed summary from src, verifies it when GPGVerify is
// set, and parses the per-ref and sparse caches. On verification failure it
// Fails with GpgUntrusted unless sideload mode is active and the sideload's
// own keyring verifies the signature instead.
func Build(ctx context.Context, remote Remote, src SummarySource, sideload SideloadKeyring, fetchRoot trustedRootFetcher) (*State, error) {
	raw, sigBundle, err := src.FetchSummary(ctx, remote)
	if err != nil {
		return nil, depoterr.New(depoterr.CodeNetworkError, "fetch remote summary").WithCause(err).WithDetail("remote", remote.Name)
	}

	if remote.GPGVerify {
		netErr := verifySummary(raw, sigBundle, fetchRoot)
		if netErr != nil {
			sideErr := errSideloadUnavailable
			if sideload != nil {
				sideErr = sideload.Verify(raw, sigBundle)
			}
			if sideErr != nil {
				return nil, depoterr.GpgUntrusted.WithCause(netErr).WithDetail("remote", remote.Name)
			}
		}
	}

	summary, sparse, err := src.ParseSummary(raw)
	if err != nil {
		return nil, fmt.Errorf("parse summary for remote %s: %w", remote.Name, err)
	}

	return &State{Remote: remote, Summary: summary, Sparse: sparse}, nil
}

var errSideloadUnavailable = fmt.Errorf("no sideload keyring configured")

// verifySummary performs keyless verification of a signed summary blob
// against the public-good Sigstore trusted root, the same Fulcio/Rekor
// certificate-identity scheme internal/backend uses for artifact
// signatures — applied here to the remote's summary index instead of an
// OCI artifact.
func verifySummary(raw, sigBundleJSON []byte, fetchRoot trustedRootFetcher) error {
	if fetchRoot == nil {
		fetchRoot = defaultTrustedRoot
	}
	tr, err := fetchRoot()
	if err != nil {
		return fmt.Errorf("fetch trusted root: %w", err)
	}
	verifier, err := sgverify.NewVerifier(tr,
		sgverify.WithSignedCertificateTimestamps(1),
		sgverify.WithTransparencyLog(1),
		sgverify.WithIntegratedTimestamps(1),
	)
	if err != nil {
		return fmt.Errorf("build verifier: %w", err)
	}

	var b bundle.Bundle
	if err := b.UnmarshalJSON(sigBundleJSON); err != nil {
		return fmt.Errorf("parse signature bundle: %w", err)
	}

	identity, err := sgverify.NewShortCertificateIdentity("", "", "", ".*")
	if err != nil {
		return fmt.Errorf("build certificate identity: %w", err)
	}

	_, err = verifier.Verify(&b, sgverify.NewPolicy(
		sgverify.WithArtifact(bytes.NewReader(raw)),
		sgverify.WithCertificateIdentity(identity),
	))
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}
