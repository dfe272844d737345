// Package remotestate implements the per-remote in-memory snapshot a
// transaction builds at start time (spec §3, §4.4): a summary index,
// per-ref metadata, GPG/sigstore trust, and sideload sources. It is
// immutable once built and freely shared by reference for the lifetime of
// one transaction.
package remotestate

import (
	"github.com/terassyi/depot/internal/ref"
)

// Remote is the persisted configuration of one remote (spec §3).
type Remote struct {
	Name          string
	URI           string
	Enabled       bool
	GPGVerify     bool
	CollectionID  string
	DefaultBranch string
	FilterList    []string
	SideloadDirs  []string
}

// RefMeta is the per-ref metadata published by a remote's summary.
type RefMeta struct {
	DownloadSize  int64
	InstalledSize int64
	RuntimeRef    string
	SDKRef        string
	MetadataBlob  map[string]string
	Related       []RelatedRef
}

// RelatedRef is an auxiliary ref declared in a primary ref's metadata
// (spec §3 Related Ref).
type RelatedRef struct {
	Ref                  ref.Ref
	ShouldDownload       bool
	ShouldDeleteWithPrimary bool
	AutoPrune            bool
}

// SparseEntry carries the EOL/EOL_REBASE flags for one ref.
type SparseEntry struct {
	EOL       string // reason, empty means not EOL
	EOLRebase ref.Ref
	HasRebase bool
}

// State is the immutable, per-transaction snapshot of one remote.
type State struct {
	Remote  Remote
	Summary map[string]RefMeta   // keyed by ref.Format()
	Sparse  map[string]SparseEntry // keyed by ref.Format()
}

// RefMetaFor looks up the metadata published for a ref, if any.
func (s *State) RefMetaFor(r ref.Ref) (RefMeta, bool) {
	m, ok := s.Summary[r.Format()]
	return m, ok
}

// SparseFor looks up the sparse-cache entry for a ref, if any.
func (s *State) SparseFor(r ref.Ref) (SparseEntry, bool) {
	e, ok := s.Sparse[r.Format()]
	return e, ok
}

// HasRef reports whether the remote's summary publishes r at all.
func (s *State) HasRef(r ref.Ref) bool {
	_, ok := s.Summary[r.Format()]
	return ok
}
