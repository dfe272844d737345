package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/terassyi/depot/internal/ref"
	"github.com/terassyi/depot/internal/remotestate"
	"github.com/terassyi/depot/internal/repair"
	"github.com/terassyi/depot/internal/resolve"
	"github.com/terassyi/depot/internal/store"
)

func totalPruned(s store.PruneStats) int {
	n := 0
	for _, c := range s.Removed {
		n += c
	}
	return n
}

type repairFlags struct {
	dryRun       bool
	reinstallAll bool
}

var repairFlagVals repairFlags

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Classify and re-materialize unhealthy refs",
	RunE:  runRepair,
}

func init() {
	f := repairCmd.Flags()
	f.BoolVar(&repairFlagVals.dryRun, "dry-run", false, "Report findings without reinstalling or pruning")
	f.BoolVar(&repairFlagVals.reinstallAll, "reinstall-all", false, "Reinstall every ref regardless of health, if its remote still publishes it")
}

// stateRemoteChecker adapts a per-remote remotestate.State map to
// repair.RemoteChecker.
type stateRemoteChecker struct {
	states map[string]*remotestate.State
}

func (c stateRemoteChecker) RefExistsOnRemote(r ref.Ref, remote string) bool {
	st, ok := c.states[remote]
	if !ok {
		return false
	}
	return st.HasRef(r)
}

func runRepair(cmd *cobra.Command, _ []string) error {
	inst, err := openInstallation()
	if err != nil {
		return err
	}

	remotes, err := loadRemotes(inst.Roots().RemotesConfigFile())
	if err != nil {
		return err
	}
	states, err := buildRemoteStates(context.Background(), remotes, "")
	if err != nil {
		return err
	}

	fe := newFrontend(true, true)
	resolver := resolve.New(fe, installedLookup{inst: inst}, states, resolve.Flags{Noninteractive: true})

	engine := repair.New(inst, stateRemoteChecker{states: states}, states)
	result, err := engine.Run(context.Background(), repair.Options{
		DryRun:             repairFlagVals.dryRun,
		ReinstallAppstream: repairFlagVals.reinstallAll,
	}, resolver, repoBackendFor(remotes, ""))
	if err != nil {
		return err
	}

	style := newOutputStyle()
	for _, f := range result.Findings {
		mark := style.successMark
		if f.Status != repair.StatusOk {
			mark = style.warnMark
		}
		fmt.Fprintf(os.Stdout, "%s %s: %s\n", mark, f.Ref.Format(), f.Status)
	}
	if result.PreCleanedMirrorRefs > 0 {
		fmt.Fprintf(os.Stdout, "pre-cleaned %d leaked mirror ref(s)\n", result.PreCleanedMirrorRefs)
	}
	for _, r := range result.Reinstalled {
		fmt.Fprintf(os.Stdout, "reinstalled %s\n", r.Format())
	}
	for _, r := range result.RefsDeleted {
		fmt.Fprintf(os.Stdout, "deleted unreachable ref %s\n", r.Format())
	}
	if pruned := totalPruned(result.Pruned); pruned > 0 {
		fmt.Fprintf(os.Stdout, "pruned %d unreferenced object(s)\n", pruned)
	}

	if !result.HasIssues() {
		fmt.Fprintln(os.Stdout, "nothing to repair")
		return errNoChange
	}
	return nil
}
