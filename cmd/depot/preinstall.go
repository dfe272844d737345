package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terassyi/depot/internal/backend"
	"github.com/terassyi/depot/internal/ref"
	"github.com/terassyi/depot/internal/resolve"
	"github.com/terassyi/depot/internal/store"
	"github.com/terassyi/depot/internal/transaction"
)

// preinstallDirs are the well-known locations an OS vendor drops
// *.preinstall ref lists into, scanned in this order (spec §6 `preinstall`:
// "Synthesize the set of refs declared by the OS-provided preinstall
// list").
var preinstallDirs = []string{
	"/etc/depot/preinstall.d",
	"/usr/share/depot/preinstall.d",
}

type preinstallFlags struct {
	sideloadRepo   string
	includeSDK     bool
	includeDebug   bool
	noninteractive bool
}

var preinstallFlagVals preinstallFlags

var preinstallCmd = &cobra.Command{
	Use:   "preinstall",
	Short: "Sync the OS-declared preinstall list into the installation",
	RunE:  runPreinstall,
}

func init() {
	f := preinstallCmd.Flags()
	f.StringVar(&preinstallFlagVals.sideloadRepo, "sideload-repo", "", "Directory repo mirror to install preinstalled refs from")
	f.BoolVar(&preinstallFlagVals.includeSDK, "include-sdk", false, "Also install each app's SDK extension")
	f.BoolVar(&preinstallFlagVals.includeDebug, "include-debug", false, "Also install each app's Debug extension")
	f.BoolVar(&preinstallFlagVals.noninteractive, "noninteractive", true, "Never prompt; fail on ambiguity")
}

func runPreinstall(cmd *cobra.Command, _ []string) error {
	if preinstallFlagVals.sideloadRepo == "" {
		return fmt.Errorf("preinstall requires --sideload-repo=PATH")
	}

	inst, err := openInstallation()
	if err != nil {
		return err
	}

	refs, err := readPreinstallList(preinstallDirs)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		fmt.Fprintln(os.Stdout, "no preinstall entries declared")
		return errNoChange
	}

	fe := newFrontend(true, preinstallFlagVals.noninteractive)
	resolver := resolve.New(fe, installedLookup{inst: inst}, nil, resolve.Flags{
		AutoInstallSDK:   preinstallFlagVals.includeSDK,
		AutoInstallDebug: preinstallFlagVals.includeDebug,
		Noninteractive:   preinstallFlagVals.noninteractive,
	})

	const preinstallRemote = "preinstall"
	be := backend.NewSideload(preinstallFlagVals.sideloadRepo, "")
	backends := func(name string) (store.RepoBackend, error) {
		if name != preinstallRemote {
			return nil, fmt.Errorf("no such remote %q", name)
		}
		return be, nil
	}
	tx := transaction.New(inst, resolver, fe, backends, transaction.Flags{
		DisableInteraction: preinstallFlagVals.noninteractive,
	}, nil)

	tx.AddSyncPreinstalled(refs, preinstallRemote)

	result, err := tx.Run(context.Background())
	if err != nil {
		return err
	}
	if len(result.Ops) == 0 {
		fmt.Fprintln(os.Stdout, "preinstall list already satisfied")
		return errNoChange
	}
	return printResultSummary(result)
}

// readPreinstallList scans dirs for *.preinstall files, each a flat list of
// refs (one per non-comment line, "kind/id/arch/branch" or bare id),
// de-duplicated across files and directories.
func readPreinstallList(dirs []string) ([]ref.Partial, error) {
	seen := make(map[string]bool)
	var out []ref.Partial
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read preinstall dir %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".preinstall") {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", e.Name(), err)
			}
			for _, line := range strings.Split(string(raw), "\n") {
				line = strings.TrimSpace(line)
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				if seen[line] {
					continue
				}
				seen[line] = true
				p, err := parseRefArg(line, nil)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", e.Name(), err)
				}
				out = append(out, p)
			}
		}
	}
	return out, nil
}
