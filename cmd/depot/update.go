package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terassyi/depot/internal/resolve"
	"github.com/terassyi/depot/internal/store"
	"github.com/terassyi/depot/internal/transaction"
)

type updateFlags struct {
	noPull         bool
	noDeploy       bool
	noRelated      bool
	noDeps         bool
	noStaticDeltas bool
	subpath        []string
	appOnly        bool
	runtimeOnly    bool
	arch           string
	commit         string
	assumeYes      bool
	noninteractive bool
}

var updateFlagVals updateFlags

var updateCmd = &cobra.Command{
	Use:   "update [REF...]",
	Short: "Same engine as install, with Update ops",
	RunE:  runUpdate,
}

func init() {
	f := updateCmd.Flags()
	f.BoolVar(&updateFlagVals.noPull, "no-pull", false, "Skip fetching objects")
	f.BoolVar(&updateFlagVals.noDeploy, "no-deploy", false, "Pull objects only, do not deploy")
	f.BoolVar(&updateFlagVals.noRelated, "no-related", false, "Skip related-ref expansion")
	f.BoolVar(&updateFlagVals.noDeps, "no-deps", false, "Skip dependency expansion")
	f.BoolVar(&updateFlagVals.noStaticDeltas, "no-static-deltas", false, "Disable static-delta pulls")
	f.StringArrayVar(&updateFlagVals.subpath, "subpath", nil, "Restrict the pull to these subpaths")
	f.BoolVar(&updateFlagVals.appOnly, "app", false, "Restrict ambiguous ids to apps")
	f.BoolVar(&updateFlagVals.runtimeOnly, "runtime", false, "Restrict ambiguous ids to runtimes")
	f.StringVar(&updateFlagVals.arch, "arch", "", "Restrict to this architecture")
	f.StringVar(&updateFlagVals.commit, "commit", "", "Pin the update to this exact commit hash")
	f.BoolVarP(&updateFlagVals.assumeYes, "assumeyes", "y", false, "Assume yes to all prompts")
	f.BoolVar(&updateFlagVals.noninteractive, "noninteractive", false, "Never prompt; fail on ambiguity")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("update requires at least one REF")
	}

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

	fe := newFrontend(updateFlagVals.assumeYes, updateFlagVals.noninteractive)
	resolver := resolve.New(fe, installedLookup{inst: inst}, states, resolve.Flags{
		DisableDependencies: updateFlagVals.noDeps,
		DisableRelated:      updateFlagVals.noRelated,
		DefaultArchOverride: updateFlagVals.arch,
		Noninteractive:      updateFlagVals.noninteractive,
	})
	tx := transaction.New(inst, resolver, fe, repoBackendFor(remotes, ""), transaction.Flags{
		NoPull:              updateFlagVals.noPull,
		NoDeploy:            updateFlagVals.noDeploy,
		NoStaticDeltas:      updateFlagVals.noStaticDeltas,
		DisableDependencies: updateFlagVals.noDeps,
		DisableRelated:      updateFlagVals.noRelated,
		DisableInteraction:  updateFlagVals.noninteractive,
		DefaultArchOverride: updateFlagVals.arch,
	}, nil)

	kindOverride := kindOverrideFrom(updateFlagVals.appOnly, updateFlagVals.runtimeOnly)
	for _, a := range args {
		p, err := parseRefArg(a, kindOverride)
		if err != nil {
			return err
		}
		tx.AddUpdate(resolve.Request{RefArg: p, Subpaths: updateFlagVals.subpath, Commit: store.Hash(updateFlagVals.commit)})
	}

	result, err := tx.Run(context.Background())
	if err != nil {
		return err
	}
	if len(result.Ops) == 0 {
		fmt.Println("already up to date")
		return errNoChange
	}
	return printResultSummary(result)
}
