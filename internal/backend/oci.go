package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	ociv1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/terassyi/depot/internal/remotestate"
	"github.com/terassyi/depot/internal/store"
)

// OCI is a RepoBackend and remotestate.SummarySource backed by an OCI
// registry, grounded on the teacher's go-containerregistry usage in
// internal/verify/oci.go (remote.Image/remote.Head, manifest/layer
// plumbing) but generalized from cosign signature fetching to fetching the
// depot object kinds (commit/dirtree/dirmeta/file), each published as a
// single-layer OCI artifact, and the summary index, published with its
// optional signature bundle as a second layer.
type OCI struct {
	repoFor func(remote remotestate.Remote) (name.Repository, error)
	opts    []remote.Option
}

// NewOCI builds an OCI backend. repoURI is resolved per-remote (each
// remotestate.Remote carries its own URI), so no single repository is fixed
// at construction time.
func NewOCI(opts ...remote.Option) *OCI {
	return &OCI{repoFor: func(r remotestate.Remote) (name.Repository, error) { return parseRepoRef(r.URI) }, opts: opts}
}

func (o *OCI) repo(uri string) (name.Repository, error) { return parseRepoRef(uri) }

// ResolveRef implements store.RepoBackend.
func (o *OCI) ResolveRef(ctx context.Context, remoteURI, refString string) (store.Hash, error) {
	repo, err := o.repo(remoteURI)
	if err != nil {
		return "", fmt.Errorf("parse remote uri %q: %w", remoteURI, err)
	}
	tagRef := repo.Tag(refTag(refString))
	img, err := remote.Image(tagRef, append(o.opts, remote.WithContext(ctx))...)
	if err != nil {
		return "", fmt.Errorf("resolve ref %s: %w", refString, err)
	}
	commit, err := readSingleLayer(img)
	if err != nil {
		return "", err
	}
	return store.Hash(commit), nil
}

// FetchObject implements store.RepoBackend.
func (o *OCI) FetchObject(ctx context.Context, remoteURI string, kind store.Kind, h store.Hash) (io.ReadCloser, error) {
	repo, err := o.repo(remoteURI)
	if err != nil {
		return nil, err
	}
	tagRef := repo.Tag(objectTag(kind, h))
	img, err := remote.Image(tagRef, append(o.opts, remote.WithContext(ctx))...)
	if err != nil {
		return nil, fmt.Errorf("fetch object %s/%s: %w", kind, h, err)
	}
	return layerReader(img)
}

// FetchStaticDelta implements store.RepoBackend. Static deltas are
// published as an OCI artifact tagged by the (from, to) commit pair; a
// registry that never published one for this pair is not an error, just a
// cache miss the caller falls back from.
func (o *OCI) FetchStaticDelta(ctx context.Context, remoteURI string, from, to store.Hash) (io.ReadCloser, bool, error) {
	repo, err := o.repo(remoteURI)
	if err != nil {
		return nil, false, err
	}
	tagRef := repo.Tag("delta-" + sanitizeTag(string(from)) + "-" + sanitizeTag(string(to)))
	img, err := remote.Image(tagRef, append(o.opts, remote.WithContext(ctx))...)
	if err != nil {
		return nil, false, nil // no delta published; not fatal
	}
	rc, err := layerReader(img)
	if err != nil {
		return nil, false, err
	}
	return rc, true, nil
}

// ApplyStaticDelta implements store.RepoBackend: a delta stream is a JSON
// array of {kind, hash, body} object records, applied directly into dst.
func (o *OCI) ApplyStaticDelta(ctx context.Context, dst *store.Store, r io.Reader) error {
	var entries []deltaEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return fmt.Errorf("decode static delta: %w", err)
	}
	for _, e := range entries {
		if e.Kind == store.KindFile {
			if _, err := dst.WriteFile(bytes.NewReader(e.Body)); err != nil {
				return fmt.Errorf("apply delta file object: %w", err)
			}
			continue
		}
		if err := writeRawObject(dst, e.Kind, e.Body); err != nil {
			return fmt.Errorf("apply delta %s object: %w", e.Kind, err)
		}
	}
	return nil
}

type deltaEntry struct {
	Kind store.Kind `json:"kind"`
	Hash string     `json:"hash"`
	Body []byte     `json:"body"`
}

// FetchSummary implements remotestate.SummarySource: the summary and its
// detached sigstore bundle are published as two layers of one OCI artifact,
// mirroring the cosign signature-attached-to-artifact layout the teacher
// reads in internal/verify/oci.go.
func (o *OCI) FetchSummary(ctx context.Context, r remotestate.Remote) ([]byte, []byte, error) {
	repo, err := o.repo(r.URI)
	if err != nil {
		return nil, nil, err
	}
	tagRef := repo.Tag(summaryTag)
	img, err := remote.Image(tagRef, append(o.opts, remote.WithContext(ctx))...)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch summary for %s: %w", r.Name, err)
	}
	layers, err := img.Layers()
	if err != nil {
		return nil, nil, err
	}
	if len(layers) < 1 {
		return nil, nil, fmt.Errorf("summary artifact for %s has no layers", r.Name)
	}
	raw, err := readLayer(layers[0])
	if err != nil {
		return nil, nil, err
	}
	var sigBundle []byte
	if len(layers) >= 2 {
		sigBundle, err = readLayer(layers[1])
		if err != nil {
			return nil, nil, err
		}
	}
	return raw, sigBundle, nil
}

// summaryDoc is the wire shape of the summary blob: per-ref metadata plus
// the sparse EOL/EOL_REBASE cache (spec §3 Remote State).
type summaryDoc struct {
	Refs   map[string]remotestate.RefMeta   `json:"refs"`
	Sparse map[string]remotestate.SparseEntry `json:"sparse"`
}

// ParseSummary implements remotestate.SummarySource.
func (o *OCI) ParseSummary(raw []byte) (map[string]remotestate.RefMeta, map[string]remotestate.SparseEntry, error) {
	var doc summaryDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse summary document: %w", err)
	}
	return doc.Refs, doc.Sparse, nil
}

// PushObject publishes one object as a single-layer OCI artifact. Nothing in
// this module calls it; the install and repair paths only pull.
func (o *OCI) PushObject(ctx context.Context, remoteURI string, kind store.Kind, h store.Hash, body []byte) error {
	repo, err := o.repo(remoteURI)
	if err != nil {
		return err
	}
	img, err := singleLayerImage(body)
	if err != nil {
		return err
	}
	return remote.Write(repo.Tag(objectTag(kind, h)), img, append(o.opts, remote.WithContext(ctx))...)
}

func singleLayerImage(body []byte) (ociv1.Image, error) {
	layer, err := crane.Layer(body)
	if err != nil {
		return nil, err
	}
	return mutate.AppendLayers(empty.Image, layer)
}

func readSingleLayer(img ociv1.Image) ([]byte, error) {
	layers, err := img.Layers()
	if err != nil {
		return nil, err
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("image has no layers")
	}
	return readLayer(layers[0])
}

func layerReader(img ociv1.Image) (io.ReadCloser, error) {
	layers, err := img.Layers()
	if err != nil {
		return nil, err
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("image has no layers")
	}
	return layers[0].Uncompressed()
}

func readLayer(l ociv1.Layer) ([]byte, error) {
	rc, err := l.Uncompressed()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func writeRawObject(dst *store.Store, kind store.Kind, body []byte) error {
	switch kind {
	case store.KindCommit:
		var c store.Commit
		if err := json.Unmarshal(body, &c); err != nil {
			return err
		}
		_, err := dst.WriteCommit(c)
		return err
	case store.KindDirTree:
		var t store.DirTree
		if err := json.Unmarshal(body, &t); err != nil {
			return err
		}
		_, err := dst.WriteDirTree(t)
		return err
	case store.KindDirMeta:
		var m store.DirMeta
		if err := json.Unmarshal(body, &m); err != nil {
			return err
		}
		_, err := dst.WriteDirMeta(m)
		return err
	default:
		return fmt.Errorf("unsupported object kind in delta: %s", kind)
	}
}
