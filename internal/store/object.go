// Package store implements the content-addressed object store (spec §3, §4.2):
// commit/dirtree/dirmeta/file objects keyed by a cryptographic content hash,
// ref entries, fsck, prune, and pull coordination through a RepoBackend.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
)

// Kind is the closed set of object kinds (spec §3, §9 "tagged variants").
type Kind int

const (
	KindCommit Kind = iota
	KindDirTree
	KindDirMeta
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindCommit:
		return "commit"
	case KindDirTree:
		return "dirtree"
	case KindDirMeta:
		return "dirmeta"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Extension returns the on-disk file extension for the object layout in
// spec §6: objects/<prefix>/<rest>.<ext>. Exported so backends outside this
// package (internal/backend's sideload transport) can lay out a mirror
// directory using the identical naming scheme.
func (k Kind) Extension() string { return k.extension() }

func (k Kind) extension() string {
	switch k {
	case KindCommit:
		return "commit"
	case KindDirTree:
		return "dirtree"
	case KindDirMeta:
		return "dirmeta"
	case KindFile:
		return "filez"
	default:
		return "bin"
	}
}

// Hash is a cryptographic content hash, hex-encoded sha256 of the object's
// canonical byte representation.
type Hash string

func (h Hash) String() string { return string(h) }
func (h Hash) Empty() bool    { return h == "" }

// prefix/rest split the hash for the on-disk two-level fan-out directory
// layout required by spec §6 for bit-exact compatibility with existing stores.
func (h Hash) prefix() string { return string(h)[:2] }
func (h Hash) rest() string   { return string(h)[2:] }

// HashBytes computes the content hash of raw object bytes.
func HashBytes(b []byte) Hash {
	sum := sha256.Sum256(b)
	return Hash(hex.EncodeToString(sum[:]))
}

// HashReader computes the content hash of a stream without buffering it
// fully in memory.
func HashReader(r io.Reader) (Hash, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return Hash(hex.EncodeToString(h.Sum(nil))), nil
}

// DirTreeEntry is one row of a DirTree: either a file (content_hash set) or
// a subdirectory (dirtree_hash + dirmeta_hash set).
type DirTreeEntry struct {
	Name        string
	ContentHash Hash // set for file entries
	DirTreeHash Hash // set for directory entries
	DirMetaHash Hash // set for directory entries
}

func (e DirTreeEntry) IsDir() bool { return e.DirTreeHash != "" }

// DirTree lists a directory's immediate children, file and subdirectory
// entries alike, sorted by name for canonical hashing.
type DirTree struct {
	Entries []DirTreeEntry
}

// canonicalBytes renders a DirTree deterministically so HashBytes is
// reproducible regardless of construction order.
func (t DirTree) canonicalBytes() []byte {
	sorted := append([]DirTreeEntry(nil), t.Entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	var buf []byte
	for _, e := range sorted {
		buf = append(buf, []byte(e.Name)...)
		buf = append(buf, 0)
		buf = append(buf, []byte(e.ContentHash)...)
		buf = append(buf, 0)
		buf = append(buf, []byte(e.DirTreeHash)...)
		buf = append(buf, 0)
		buf = append(buf, []byte(e.DirMetaHash)...)
		buf = append(buf, '\n')
	}
	return buf
}

// DirMeta carries ownership and permission bits for a directory entry.
type DirMeta struct {
	UID   uint32
	GID   uint32
	Mode  uint32
	Xattr map[string]string
}

func (m DirMeta) canonicalBytes() []byte {
	var buf []byte
	buf = append(buf, []byte(uitoa(uint64(m.UID)))...)
	buf = append(buf, 0)
	buf = append(buf, []byte(uitoa(uint64(m.GID)))...)
	buf = append(buf, 0)
	buf = append(buf, []byte(uitoa(uint64(m.Mode)))...)
	buf = append(buf, 0)
	keys := make([]string, 0, len(m.Xattr))
	for k := range m.Xattr {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf = append(buf, []byte(k)...)
		buf = append(buf, '=')
		buf = append(buf, []byte(m.Xattr[k])...)
		buf = append(buf, '\n')
	}
	return buf
}

func uitoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for v > 0 {
		i--
		b[i] = byte('0' + v%10)
		v /= 10
	}
	return string(b[i:])
}

// Commit is the content-addressed record naming one snapshot of one ref
// (spec §3). It may be flagged Partial when subpaths were restricted at
// pull time.
type Commit struct {
	TreeRootHash Hash
	MetaHash     Hash
	ParentHash   Hash // empty means no parent
	Timestamp    int64
	Metadata     map[string]string
	Subject      string
	Body         string
	Partial      bool
}

func (c Commit) canonicalBytes() []byte {
	var buf []byte
	buf = append(buf, []byte(c.TreeRootHash)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(c.MetaHash)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(c.ParentHash)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(uitoa(uint64(c.Timestamp)))...)
	buf = append(buf, 0)
	keys := make([]string, 0, len(c.Metadata))
	for k := range c.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf = append(buf, []byte(k)...)
		buf = append(buf, '=')
		buf = append(buf, []byte(c.Metadata[k])...)
		buf = append(buf, '\n')
	}
	buf = append(buf, []byte(c.Subject)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(c.Body)...)
	return buf
}

// CommitState carries flags about a loaded commit beyond its content.
type CommitState struct {
	Partial bool
}
