package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// treeFetchParallelism bounds how many directory entries pullTree fetches
// concurrently, the same semaphore-bounded fan-out shape as the teacher's
// executeNodesParallel (internal/installer/engine/engine.go).
const treeFetchParallelism = 8

// RepoBackend abstracts transport and signature verification internals
// (spec §1): network protocol, TLS, and GPG details live entirely behind
// concrete implementations such as internal/backend's OCI-backed and
// sideload-backed backends. Pull is permitted to drive multiple parallel
// connections internally but must expose a single suspension point to the
// caller (spec §5) — callers treat one Pull call as atomic from a progress
// standpoint.
type RepoBackend interface {
	// ResolveRef resolves a ref string against remote to its current
	// commit hash, as published by the remote's summary.
	ResolveRef(ctx context.Context, remote, refString string) (Hash, error)

	// FetchObject retrieves one object's raw bytes by kind and hash.
	FetchObject(ctx context.Context, remote string, kind Kind, hash Hash) (io.ReadCloser, error)

	// FetchStaticDelta retrieves a static delta, if the remote publishes
	// one from "from" to "to". ok is false when no delta is available and
	// the caller should fall back to per-object fetches.
	FetchStaticDelta(ctx context.Context, remote string, from, to Hash) (r io.ReadCloser, ok bool, err error)

	// ApplyStaticDelta materializes the objects named by a delta stream
	// directly into dst.
	ApplyStaticDelta(ctx context.Context, dst *Store, r io.Reader) error
}

// PullOptions controls one Pull invocation's behavior (subset of the
// transaction-wide flags relevant to the object store, spec §3 Transaction).
type PullOptions struct {
	NoStaticDeltas bool
	Subpaths       []string // non-empty implies a partial commit is acceptable
}

// PullResult reports what Pull actually fetched.
type PullResult struct {
	Refs          map[string]Hash // refstring -> resolved commit hash
	ObjectsPulled int
	UsedDelta     bool
}

const (
	maxPullAttempts  = 3
	pullRetryBackoff = 200 * time.Millisecond
)

// Pull coordinates with backend to fetch commits and their transitively
// required objects for the given ref strings, preferring static deltas when
// available and not disabled, falling back to per-object fetches otherwise
// (spec §4.2). NetworkError is retried with exponential backoff up to three
// attempts per operation at this layer (spec §7); it is only surfaced to
// the caller once every attempt is exhausted.
func (s *Store) Pull(ctx context.Context, backend RepoBackend, remote string, refStrings []string, opts PullOptions) (PullResult, error) {
	if err := s.ensureDirs(); err != nil {
		return PullResult{}, err
	}
	result := PullResult{Refs: make(map[string]Hash)}

	for _, refString := range refStrings {
		commit, err := withRetry(ctx, func() (Hash, error) {
			return backend.ResolveRef(ctx, remote, refString)
		})
		if err != nil {
			return result, fmt.Errorf("resolve %s: %w", refString, err)
		}

		existing, had, err := s.GetRef(remote, refString)
		if err != nil {
			return result, err
		}

		usedDelta := false
		if had && existing != commit && !opts.NoStaticDeltas {
			if err := withRetryVoid(ctx, func() error {
				r, ok, derr := backend.FetchStaticDelta(ctx, remote, existing, commit)
				if derr != nil {
					return derr
				}
				if !ok {
					return nil
				}
				defer r.Close()
				usedDelta = true
				return backend.ApplyStaticDelta(ctx, s, r)
			}); err != nil {
				return result, fmt.Errorf("apply delta for %s: %w", refString, err)
			}
		}

		if !usedDelta {
			n, err := s.pullObjectsFor(ctx, backend, remote, commit, opts)
			if err != nil {
				return result, fmt.Errorf("pull objects for %s: %w", refString, err)
			}
			result.ObjectsPulled += n
		}

		if err := s.SetRef(remote, refString, &commit); err != nil {
			return result, fmt.Errorf("set ref %s: %w", refString, err)
		}
		result.Refs[refString] = commit
		result.UsedDelta = result.UsedDelta || usedDelta
	}
	return result, nil
}

// pullObjectsFor fetches the commit and the transitive closure of objects
// it references that are not already present, honoring Subpaths by marking
// the commit partial when a restriction was requested.
func (s *Store) pullObjectsFor(ctx context.Context, backend RepoBackend, remote string, commit Hash, opts PullOptions) (int, error) {
	pulled := 0
	if res, _ := s.FsckObject(KindCommit, commit); res != FsckOk {
		if err := s.fetchOne(ctx, backend, remote, KindCommit, commit); err != nil {
			return pulled, err
		}
		pulled++
	}

	c, _, err := s.LoadCommit(commit)
	if err != nil {
		return pulled, err
	}
	if len(opts.Subpaths) > 0 && !c.Partial {
		c.Partial = true
		// Partial is not hashed, so the flagged commit replaces the stored
		// object under the same hash.
		if err := s.DeleteObject(KindCommit, commit); err != nil {
			return pulled, err
		}
		if _, err := s.WriteCommit(c); err != nil {
			return pulled, err
		}
	}

	n, err := s.pullTree(ctx, backend, remote, c.TreeRootHash, opts.Subpaths, "")
	pulled += n
	return pulled, err
}

func (s *Store) pullTree(ctx context.Context, backend RepoBackend, remote string, dirTreeHash Hash, subpaths []string, prefix string) (int, error) {
	if dirTreeHash == "" {
		return 0, nil
	}
	pulled := 0
	if res, _ := s.FsckObject(KindDirTree, dirTreeHash); res != FsckOk {
		if err := s.fetchOne(ctx, backend, remote, KindDirTree, dirTreeHash); err != nil {
			return pulled, err
		}
		pulled++
	}
	t, err := s.LoadDirTree(dirTreeHash)
	if err != nil {
		return pulled, err
	}

	entries := make([]dirTreeEntry, 0, len(t.Entries))
	for _, e := range t.Entries {
		childPath := prefix + "/" + e.Name
		if !inSubpaths(childPath, subpaths) {
			continue // permitted gap in a partial commit
		}
		entries = append(entries, dirTreeEntry{entry: e, path: childPath})
	}

	n, err := s.pullEntries(ctx, backend, remote, entries, subpaths)
	pulled += n
	return pulled, err
}

type dirTreeEntry struct {
	entry DirTreeEntry
	path  string
}

// pullEntries fetches a directory's child entries concurrently, bounded by
// treeFetchParallelism, the same semaphore-acquire-then-launch-goroutine
// shape and continue-on-error/errors.Join collection as the teacher's
// executeNodesParallel (internal/installer/engine/engine.go).
func (s *Store) pullEntries(ctx context.Context, backend RepoBackend, remote string, entries []dirTreeEntry, subpaths []string) (int, error) {
	sem := semaphore.NewWeighted(treeFetchParallelism)

	var (
		pulled atomic.Int64
		mu     sync.Mutex
		errs   []error
		wg     sync.WaitGroup
	)

	for _, de := range entries {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			break
		}

		de := de
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			n, err := s.pullEntry(ctx, backend, remote, de, subpaths)
			pulled.Add(int64(n))
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", de.path, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return int(pulled.Load()), errors.Join(errs...)
}

func (s *Store) pullEntry(ctx context.Context, backend RepoBackend, remote string, de dirTreeEntry, subpaths []string) (int, error) {
	e := de.entry
	if e.IsDir() {
		pulled := 0
		if res, _ := s.FsckObject(KindDirMeta, e.DirMetaHash); res != FsckOk {
			if err := s.fetchOne(ctx, backend, remote, KindDirMeta, e.DirMetaHash); err != nil {
				return pulled, err
			}
			pulled++
		}
		n, err := s.pullTree(ctx, backend, remote, e.DirTreeHash, subpaths, de.path)
		pulled += n
		return pulled, err
	}
	if res, _ := s.FsckObject(KindFile, e.ContentHash); res != FsckOk {
		if err := s.fetchOne(ctx, backend, remote, KindFile, e.ContentHash); err != nil {
			return 0, err
		}
		return 1, nil
	}
	return 0, nil
}

// inSubpaths reports whether p is materialized under an empty (full
// deployment) or matching subpath restriction.
func inSubpaths(p string, subpaths []string) bool {
	if len(subpaths) == 0 {
		return true
	}
	for _, sp := range subpaths {
		if p == sp || len(p) > len(sp) && p[:len(sp)] == sp && p[len(sp)] == '/' {
			return true
		}
	}
	return false
}

func (s *Store) fetchOne(ctx context.Context, backend RepoBackend, remote string, kind Kind, h Hash) error {
	return withRetryVoid(ctx, func() error {
		r, err := backend.FetchObject(ctx, remote, kind, h)
		if err != nil {
			return err
		}
		defer r.Close()
		switch kind {
		case KindFile:
			got, err := s.WriteFile(r)
			if err != nil {
				return err
			}
			if got != h {
				return fmt.Errorf("file object hash mismatch: want %s got %s", h, got)
			}
			return nil
		default:
			data, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			return s.writeRawVerified(kind, h, data)
		}
	})
}

func (s *Store) writeRawVerified(kind Kind, want Hash, data []byte) error {
	got, err := canonicalHashOf(kind, data)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%s object hash mismatch: want %s got %s", kind, want, got)
	}
	dest := s.l.objectPath(kind, want)
	if err := ensureParent(dest); err != nil {
		return err
	}
	tmp := dest + ".tmp"
	if err := writeFileAtomic(tmp, dest, data); err != nil {
		return err
	}
	return nil
}

func withRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < maxPullAttempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		slog.Debug("pull attempt failed", "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(pullRetryBackoff * time.Duration(1<<attempt)):
		}
	}
	return zero, lastErr
}

func withRetryVoid(ctx context.Context, fn func() error) error {
	_, err := withRetry(ctx, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}
