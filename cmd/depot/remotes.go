package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/terassyi/depot/internal/backend"
	"github.com/terassyi/depot/internal/remotestate"
	"github.com/terassyi/depot/internal/store"
)

// remoteDoc is the on-disk wire shape of one remotes.yaml entry. Kept
// separate from remotestate.Remote so that package stays free of YAML
// struct tags it has no CLI-layer reason to carry.
type remoteDoc struct {
	Name          string   `yaml:"name"`
	URI           string   `yaml:"uri"`
	Enabled       bool     `yaml:"enabled"`
	GPGVerify     bool     `yaml:"gpg-verify"`
	CollectionID  string   `yaml:"collection-id"`
	DefaultBranch string   `yaml:"default-branch"`
	FilterList    []string `yaml:"filter,omitempty"`
	SideloadDirs  []string `yaml:"sideload-dirs,omitempty"`
}

func loadRemotes(path string) ([]remotestate.Remote, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read remotes config: %w", err)
	}
	var docs []remoteDoc
	if err := yaml.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("parse remotes config: %w", err)
	}
	out := make([]remotestate.Remote, 0, len(docs))
	for _, d := range docs {
		out = append(out, remotestate.Remote{
			Name:          d.Name,
			URI:           d.URI,
			Enabled:       d.Enabled,
			GPGVerify:     d.GPGVerify,
			CollectionID:  d.CollectionID,
			DefaultBranch: d.DefaultBranch,
			FilterList:    d.FilterList,
			SideloadDirs:  d.SideloadDirs,
		})
	}
	return out, nil
}

// backendFor picks the RepoBackend for a remote: a sideload directory
// mirror when one is configured (spec §9's "sideload first when
// available"), otherwise the OCI registry backend.
func backendFor(r remotestate.Remote, trustedRootPath string) store.RepoBackend {
	if len(r.SideloadDirs) > 0 {
		return backend.NewSideload(r.SideloadDirs[0], trustedRootPath)
	}
	return backend.NewOCI()
}

// buildRemoteStates fetches and verifies every enabled remote's summary,
// building the immutable per-transaction snapshot map the resolver needs
// (spec §4.4).
func buildRemoteStates(ctx context.Context, remotes []remotestate.Remote, trustedRootPath string) (map[string]*remotestate.State, error) {
	states := make(map[string]*remotestate.State, len(remotes))
	for _, r := range remotes {
		if !r.Enabled {
			continue
		}
		be := backendFor(r, trustedRootPath)
		src, ok := be.(interface {
			FetchSummary(ctx context.Context, r remotestate.Remote) ([]byte, []byte, error)
			ParseSummary(raw []byte) (map[string]remotestate.RefMeta, map[string]remotestate.SparseEntry, error)
		})
		if !ok {
			return nil, fmt.Errorf("remote %s: backend does not support summary fetch", r.Name)
		}
		var sideload remotestate.SideloadKeyring
		if sl, ok := be.(*backend.Sideload); ok {
			sideload = sl
		}
		st, err := remotestate.Build(ctx, r, src, sideload, nil)
		if err != nil {
			return nil, fmt.Errorf("remote %s: %w", r.Name, err)
		}
		states[r.Name] = st
	}
	return states, nil
}

// repoBackendFor adapts the CLI's remote list into a
// transaction.RepoBackendFor collaborator.
func repoBackendFor(remotes []remotestate.Remote, trustedRootPath string) func(name string) (store.RepoBackend, error) {
	byName := make(map[string]remotestate.Remote, len(remotes))
	for _, r := range remotes {
		byName[r.Name] = r
	}
	return func(name string) (store.RepoBackend, error) {
		r, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("no such remote %q", name)
		}
		return backendFor(r, trustedRootPath), nil
	}
}
