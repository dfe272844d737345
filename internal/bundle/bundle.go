// Package bundle reads single-file `.flatpak`-style bundles (spec §6
// "Bundle format"): a self-contained static delta against an empty commit,
// signed, consumed through Transaction.AddInstallBundle(path, gpgKeys).
//
// A bundle carries its own objects rather than referencing a remote, so
// installing one never touches the network — it is applied directly into
// the local object store the same way a fetched static delta is applied
// (internal/backend's ApplyStaticDelta), just sourced from a local file
// instead of a RepoBackend.
package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sigstore/sigstore-go/pkg/bundle"
	"github.com/sigstore/sigstore-go/pkg/root"
	sgverify "github.com/sigstore/sigstore-go/pkg/verify"
	"github.com/ulikunitz/xz"

	"github.com/terassyi/depot/internal/depoterr"
	"github.com/terassyi/depot/internal/ref"
	"github.com/terassyi/depot/internal/store"
)

// objectEntry is one object shipped inside the bundle's embedded static
// delta, the same shape as internal/backend's wire delta entries.
type objectEntry struct {
	Kind store.Kind `json:"kind"`
	Hash string     `json:"hash"`
	Body []byte     `json:"body"`
}

// doc is the on-disk shape of a bundle file: ref metadata, the commit
// itself, every object the commit's tree transitively reaches, and an
// optional detached signature bundle.
type doc struct {
	Ref       string          `json:"ref"`
	Metadata  map[string]string `json:"metadata"`
	Commit    objectEntry     `json:"commit"`
	Objects   []objectEntry   `json:"objects"`
	Signature []byte          `json:"signature,omitempty"`
}

// Bundle is a parsed, not-yet-applied bundle file.
type Bundle struct {
	Ref      ref.Ref
	Metadata map[string]string
	raw      doc
}

// xzMagic is the xz stream header. Open decompresses a bundle file that
// starts with it (the same xz compression the teacher's extractor.go
// decompresses for downloaded archives) and parses any other file as an
// uncompressed JSON document.
var xzMagic = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}

// Open reads and parses a bundle file from disk. It does not verify the
// signature or write anything into a store — see Verify and ApplyTo.
func Open(path string) (*Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: %w", path, err)
	}

	data := raw
	if bytes.HasPrefix(raw, xzMagic) {
		xr, err := xz.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("open xz bundle %s: %w", path, err)
		}
		data, err = io.ReadAll(xr)
		if err != nil {
			return nil, fmt.Errorf("decompress bundle %s: %w", path, err)
		}
	}

	var d doc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse bundle %s: %w", path, err)
	}
	r, err := ref.Parse(d.Ref)
	if err != nil {
		return nil, depoterr.New(depoterr.CodeInvalidRef, "bundle names an invalid ref").WithCause(err).WithDetail("ref", d.Ref)
	}
	return &Bundle{Ref: r, Metadata: d.Metadata, raw: d}, nil
}

// Verify checks the bundle's embedded signature against a locally pinned
// sigstore trusted-root snapshot and a certificate-identity allowlist
// (spec's `gpg_keys` parameter to add_install_bundle, reinterpreted for
// this domain's sigstore-based trust model rather than classic GPG — see
// DESIGN.md), the same verifier construction as internal/backend/sideload.go.
func (b *Bundle) Verify(trustedRootPath string, identityPatterns []string) error {
	if len(b.raw.Signature) == 0 {
		return depoterr.GpgUntrusted.WithHint("bundle carries no signature")
	}
	tr, err := root.NewTrustedRootFromPath(trustedRootPath)
	if err != nil {
		return fmt.Errorf("load bundle trusted root: %w", err)
	}
	verifier, err := sgverify.NewVerifier(tr,
		sgverify.WithSignedCertificateTimestamps(1),
		sgverify.WithTransparencyLog(1),
		sgverify.WithIntegratedTimestamps(1),
	)
	if err != nil {
		return fmt.Errorf("build bundle verifier: %w", err)
	}
	var sb bundle.Bundle
	if err := sb.UnmarshalJSON(b.raw.Signature); err != nil {
		return fmt.Errorf("parse bundle signature: %w", err)
	}

	artifact, err := b.canonicalBytes()
	if err != nil {
		return err
	}

	if len(identityPatterns) == 0 {
		identityPatterns = []string{".*"}
	}
	var lastErr error
	for _, pattern := range identityPatterns {
		identity, err := sgverify.NewShortCertificateIdentity("", "", "", pattern)
		if err != nil {
			return fmt.Errorf("build bundle certificate identity: %w", err)
		}
		_, err = verifier.Verify(&sb, sgverify.NewPolicy(
			sgverify.WithArtifact(bytes.NewReader(artifact)),
			sgverify.WithCertificateIdentity(identity),
		))
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return depoterr.GpgUntrusted.WithCause(lastErr)
}

// canonicalBytes is the byte payload the signature was computed over: the
// ref string plus the commit object's body, so verification does not
// depend on the embedded-objects slice's encoding order.
func (b *Bundle) canonicalBytes() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(b.raw.Ref)
	buf.WriteByte(0)
	buf.Write(b.raw.Commit.Body)
	return buf.Bytes(), nil
}

// ApplyTo writes every object the bundle carries into dst and returns the
// commit hash it deployed, the same object-kind dispatch internal/backend
// uses when applying a fetched static delta.
func (b *Bundle) ApplyTo(dst *store.Store) (store.Hash, error) {
	for _, e := range b.raw.Objects {
		if err := writeObject(dst, e); err != nil {
			return "", fmt.Errorf("apply bundle object %s/%s: %w", e.Kind, e.Hash, err)
		}
	}
	commitHash, err := writeCommitObject(dst, b.raw.Commit)
	if err != nil {
		return "", fmt.Errorf("apply bundle commit: %w", err)
	}
	return commitHash, nil
}

func writeObject(dst *store.Store, e objectEntry) error {
	switch e.Kind {
	case store.KindFile:
		_, err := dst.WriteFile(bytes.NewReader(e.Body))
		return err
	case store.KindDirTree:
		var t store.DirTree
		if err := json.Unmarshal(e.Body, &t); err != nil {
			return err
		}
		_, err := dst.WriteDirTree(t)
		return err
	case store.KindDirMeta:
		var m store.DirMeta
		if err := json.Unmarshal(e.Body, &m); err != nil {
			return err
		}
		_, err := dst.WriteDirMeta(m)
		return err
	default:
		return fmt.Errorf("unsupported bundle object kind %s", e.Kind)
	}
}

func writeCommitObject(dst *store.Store, e objectEntry) (store.Hash, error) {
	var c store.Commit
	if err := json.Unmarshal(e.Body, &c); err != nil {
		return "", err
	}
	return dst.WriteCommit(c)
}
