package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/terassyi/depot/internal/frontend"
	"github.com/terassyi/depot/internal/installation"
	"github.com/terassyi/depot/internal/remotestate"
	"github.com/terassyi/depot/internal/resolve"
	"github.com/terassyi/depot/internal/transaction"
)

type installFlags struct {
	noPull         bool
	noDeploy       bool
	noRelated      bool
	noDeps         bool
	noStaticDeltas bool
	reinstall      bool
	subpath        []string
	appOnly        bool
	runtimeOnly    bool
	arch           string
	bundle         string
	from           string
	gpgFile        string
	assumeYes      bool
	noninteractive bool
}

var installFlagVals installFlags

var installCmd = &cobra.Command{
	Use:   "install [REMOTE] [REF...]",
	Short: "Build one transaction with resolved installs",
	RunE:  runInstall,
}

func init() {
	f := installCmd.Flags()
	f.BoolVar(&installFlagVals.noPull, "no-pull", false, "Skip fetching objects (deploy from what's already local)")
	f.BoolVar(&installFlagVals.noDeploy, "no-deploy", false, "Pull objects only, do not deploy")
	f.BoolVar(&installFlagVals.noRelated, "no-related", false, "Skip related-ref expansion")
	f.BoolVar(&installFlagVals.noDeps, "no-deps", false, "Skip dependency (runtime/sdk) expansion")
	f.BoolVar(&installFlagVals.noStaticDeltas, "no-static-deltas", false, "Disable static-delta pulls")
	f.BoolVar(&installFlagVals.reinstall, "reinstall", false, "Uninstall then reinstall at the resolved commit")
	f.StringArrayVar(&installFlagVals.subpath, "subpath", nil, "Restrict the pull to these subpaths")
	f.BoolVar(&installFlagVals.appOnly, "app", false, "Restrict ambiguous ids to apps")
	f.BoolVar(&installFlagVals.runtimeOnly, "runtime", false, "Restrict ambiguous ids to runtimes")
	f.StringVar(&installFlagVals.arch, "arch", "", "Override the default architecture")
	f.StringVar(&installFlagVals.bundle, "bundle", "", "Install from a single-file .flatpak-style bundle")
	f.StringVar(&installFlagVals.from, "from", "", "Install from a .flatpakref-style description file")
	f.StringVar(&installFlagVals.gpgFile, "gpg-file", "", "Trusted-root file for bundle signature verification")
	f.BoolVarP(&installFlagVals.assumeYes, "assumeyes", "y", false, "Assume yes to all prompts")
	f.BoolVar(&installFlagVals.noninteractive, "noninteractive", false, "Never prompt; fail on ambiguity")
}

func runInstall(cmd *cobra.Command, args []string) error {
	inst, err := openInstallation()
	if err != nil {
		return err
	}

	if installFlagVals.bundle != "" {
		return runInstallBundle(inst)
	}
	if installFlagVals.from != "" {
		return runInstallFromDescription(inst)
	}

	if len(args) == 0 {
		return fmt.Errorf("install requires at least one REF")
	}
	remotes, err := loadRemotes(inst.Roots().RemotesConfigFile())
	if err != nil {
		return err
	}
	remote, refArgs := splitRemoteAndRefs(args, remotes)
	states, err := buildRemoteStates(cmd.Context(), remotes, installFlagVals.gpgFile)
	if err != nil {
		return err
	}

	fe := newFrontend(installFlagVals.assumeYes, installFlagVals.noninteractive)
	resolver := resolve.New(fe, installedLookup{inst: inst}, states, resolve.Flags{
		DisableDependencies: installFlagVals.noDeps,
		DisableRelated:      installFlagVals.noRelated,
		Reinstall:           installFlagVals.reinstall,
		DefaultArchOverride: installFlagVals.arch,
		Noninteractive:      installFlagVals.noninteractive,
	})
	tx := transaction.New(inst, resolver, fe, repoBackendFor(remotes, installFlagVals.gpgFile), transaction.Flags{
		NoPull:              installFlagVals.noPull,
		NoDeploy:            installFlagVals.noDeploy,
		NoStaticDeltas:      installFlagVals.noStaticDeltas,
		DisableDependencies: installFlagVals.noDeps,
		DisableRelated:      installFlagVals.noRelated,
		Reinstall:           installFlagVals.reinstall,
		DisableInteraction:  installFlagVals.noninteractive,
		DefaultArchOverride: installFlagVals.arch,
	}, nil)

	kindOverride := kindOverrideFrom(installFlagVals.appOnly, installFlagVals.runtimeOnly)
	for _, a := range refArgs {
		p, err := parseRefArg(a, kindOverride)
		if err != nil {
			return err
		}
		tx.AddInstall(resolve.Request{RefArg: p, Remote: remote, Subpaths: installFlagVals.subpath})
	}

	result, err := tx.Run(cmd.Context())
	if err != nil {
		return err
	}
	return printResultSummary(result)
}

// splitRemoteAndRefs implements the "[REMOTE] [REF...]" shape: the CLI
// leaves remote selection to the resolver (contract 3) unless the first of
// two or more args names a configured remote, in which case it's consumed as
// such and the rest are refs.
func splitRemoteAndRefs(args []string, remotes []remotestate.Remote) (remote string, refs []string) {
	if len(args) > 1 {
		for _, r := range remotes {
			if r.Name == args[0] {
				return args[0], args[1:]
			}
		}
	}
	return "", args
}

func runInstallBundle(inst *installation.Installation) error {
	fe := newFrontend(installFlagVals.assumeYes, installFlagVals.noninteractive)
	resolver := resolve.New(fe, installedLookup{inst: inst}, nil, resolve.Flags{})
	tx := transaction.New(inst, resolver, fe, nil, transaction.Flags{
		NoDeploy: installFlagVals.noDeploy,
	}, nil)
	tx.TrustedRootPath = installFlagVals.gpgFile

	var gpgKeys []string
	if installFlagVals.gpgFile != "" {
		gpgKeys = []string{".*"}
	}
	if err := tx.AddInstallBundle(installFlagVals.bundle, gpgKeys); err != nil {
		return err
	}

	result, err := tx.Run(context.Background())
	if err != nil {
		return err
	}
	return printResultSummary(result)
}

func runInstallFromDescription(inst *installation.Installation) error {
	raw, err := os.ReadFile(installFlagVals.from)
	if err != nil {
		return fmt.Errorf("read description file: %w", err)
	}

	remotes, err := loadRemotes(inst.Roots().RemotesConfigFile())
	if err != nil {
		return err
	}
	byURL := make(map[string]remotestate.Remote, len(remotes))
	for _, r := range remotes {
		byURL[r.URI] = r
	}

	states, err := buildRemoteStates(context.Background(), remotes, installFlagVals.gpgFile)
	if err != nil {
		return err
	}

	fe := newFrontend(installFlagVals.assumeYes, installFlagVals.noninteractive)
	resolver := resolve.New(fe, installedLookup{inst: inst}, states, resolve.Flags{
		DisableDependencies: installFlagVals.noDeps,
		DisableRelated:      installFlagVals.noRelated,
		Noninteractive:      installFlagVals.noninteractive,
	})
	tx := transaction.New(inst, resolver, fe, repoBackendFor(remotes, installFlagVals.gpgFile), transaction.Flags{
		NoPull:              installFlagVals.noPull,
		NoDeploy:             installFlagVals.noDeploy,
		DisableDependencies: installFlagVals.noDeps,
		DisableRelated:      installFlagVals.noRelated,
	}, nil)

	err = tx.AddInstallFromDescription(raw, func(url string) (string, error) {
		if r, ok := byURL[url]; ok {
			return r.Name, nil
		}
		return "", fmt.Errorf("no configured remote publishes %s; add it with a remotes.yaml entry first", url)
	})
	if err != nil {
		return err
	}

	result, err := tx.Run(context.Background())
	if err != nil {
		return err
	}
	return printResultSummary(result)
}

func newFrontend(assumeYes, noninteractive bool) frontend.Frontend {
	if noninteractive || !frontend.IsTTY() {
		return frontend.NewQuiet(os.Stdout, assumeYes)
	}
	return frontend.NewInteractive()
}
