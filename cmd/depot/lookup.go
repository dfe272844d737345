package main

import (
	"github.com/terassyi/depot/internal/installation"
	"github.com/terassyi/depot/internal/ref"
	"github.com/terassyi/depot/internal/store"
)

// installedLookup adapts a single installation.Installation to
// resolve.InstalledLookup. The CLI always operates on one installation at
// a time (the one selected by --system/--installation/--data-dir), so
// InstallationsFor only ever reports zero or one name.
type installedLookup struct {
	inst *installation.Installation
}

func (l installedLookup) IsInstalled(r ref.Ref) (store.Hash, string, bool) {
	d, err := l.inst.ActiveDeployment(r)
	if err != nil || d == nil {
		return "", "", false
	}
	return d.CommitID, d.Data.OriginRemote, true
}

func (l installedLookup) InstallationsFor(r ref.Ref) []string {
	if d, err := l.inst.ActiveDeployment(r); err == nil && d != nil {
		return []string{l.inst.Name()}
	}
	return nil
}
