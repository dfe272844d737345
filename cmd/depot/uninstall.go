package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/terassyi/depot/internal/resolve"
	"github.com/terassyi/depot/internal/transaction"
)

type uninstallFlags struct {
	all            bool
	unused         bool
	keepRef        bool
	forceRemove    bool
	noRelated      bool
	deleteData     bool
	arch           string
	appOnly        bool
	runtimeOnly    bool
	assumeYes      bool
	noninteractive bool
}

var uninstallFlagVals uninstallFlags

var uninstallCmd = &cobra.Command{
	Use:   "uninstall [REF...]",
	Short: "Build one transaction with uninstalls",
	RunE:  runUninstall,
}

func init() {
	f := uninstallCmd.Flags()
	f.BoolVar(&uninstallFlagVals.all, "all", false, "Uninstall every installed ref")
	f.BoolVar(&uninstallFlagVals.unused, "unused", false, "Uninstall refs unreachable from any pinned ref")
	f.BoolVar(&uninstallFlagVals.keepRef, "keep-ref", false, "Keep the ref entry after removing the deployment")
	f.BoolVar(&uninstallFlagVals.forceRemove, "force-remove", false, "Remove even if other installs depend on it")
	f.BoolVar(&uninstallFlagVals.noRelated, "no-related", false, "Skip removal of related refs")
	f.BoolVar(&uninstallFlagVals.deleteData, "delete-data", false, "Also delete the app's user data directory")
	f.StringVar(&uninstallFlagVals.arch, "arch", "", "Restrict to this architecture")
	f.BoolVar(&uninstallFlagVals.appOnly, "app", false, "Restrict ambiguous ids to apps")
	f.BoolVar(&uninstallFlagVals.runtimeOnly, "runtime", false, "Restrict ambiguous ids to runtimes")
	f.BoolVarP(&uninstallFlagVals.assumeYes, "assumeyes", "y", false, "Assume yes to all prompts")
	f.BoolVar(&uninstallFlagVals.noninteractive, "noninteractive", false, "Never prompt; fail on ambiguity")
}

func runUninstall(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !uninstallFlagVals.all && !uninstallFlagVals.unused {
		return fmt.Errorf("uninstall requires at least one REF, or --all/--unused")
	}

	inst, err := openInstallation()
	if err != nil {
		return err
	}

	fe := newFrontend(uninstallFlagVals.assumeYes, uninstallFlagVals.noninteractive)
	lookup := installedLookup{inst: inst}
	resolver := resolve.New(fe, lookup, nil, resolve.Flags{
		DisableRelated: uninstallFlagVals.noRelated,
		KeepRef:        uninstallFlagVals.keepRef,
		ForceUninstall: uninstallFlagVals.forceRemove,
		Noninteractive: uninstallFlagVals.noninteractive,
	})
	tx := transaction.New(inst, resolver, fe, nil, transaction.Flags{
		DisableRelated:     uninstallFlagVals.noRelated,
		KeepRef:            uninstallFlagVals.keepRef,
		ForceUninstall:     uninstallFlagVals.forceRemove,
		DisableInteraction: uninstallFlagVals.noninteractive,
	}, nil)

	kindOverride := kindOverrideFrom(uninstallFlagVals.appOnly, uninstallFlagVals.runtimeOnly)
	switch {
	case uninstallFlagVals.all, uninstallFlagVals.unused:
		refs, err := installedRefs(inst)
		if err != nil {
			return err
		}
		if uninstallFlagVals.unused {
			refs, err = unpinnedRefs(inst, refs)
			if err != nil {
				return err
			}
		}
		if len(refs) == 0 {
			fmt.Fprintln(os.Stdout, "nothing to uninstall")
			return errNoChange
		}
		for _, r := range refs {
			k := r.Kind()
			tx.AddUninstall(resolve.Request{RefArg: refPartial(r, &k)})
		}
	default:
		for _, a := range args {
			p, err := parseRefArg(a, kindOverride)
			if err != nil {
				return err
			}
			if uninstallFlagVals.arch != "" {
				p.Arch = uninstallFlagVals.arch
			}
			tx.AddUninstall(resolve.Request{RefArg: p})
		}
	}

	result, err := tx.Run(context.Background())
	if err != nil {
		return err
	}
	return printResultSummary(result)
}
