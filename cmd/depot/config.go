package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/terassyi/depot/internal/config"
)

type configFlags struct {
	list  bool
	get   string
	set   []string
	unset string
}

var configFlagVals configFlags

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read or write installation config keys (languages, extra-languages)",
	RunE:  runConfig,
}

func init() {
	f := configCmd.Flags()
	f.BoolVar(&configFlagVals.list, "list", false, "List every config key and value")
	f.StringVar(&configFlagVals.get, "get", "", "Print the value of KEY")
	f.StringArrayVar(&configFlagVals.set, "set", nil, "Set KEY VAL (repeat the flag for KEY then VAL)")
	f.StringVar(&configFlagVals.unset, "unset", "", "Unset KEY")
}

func runConfig(cmd *cobra.Command, _ []string) error {
	inst, err := openInstallation()
	if err != nil {
		return err
	}

	path := inst.Roots().InstallationConfigFile()
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	switch {
	case configFlagVals.get != "":
		v, err := cfg.Get(configFlagVals.get)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, v)
		return nil

	case len(configFlagVals.set) > 0:
		if len(configFlagVals.set) != 2 {
			return fmt.Errorf("--set requires exactly KEY and VAL")
		}
		if err := cfg.Set(configFlagVals.set[0], configFlagVals.set[1]); err != nil {
			return err
		}
		return cfg.Save()

	case configFlagVals.unset != "":
		if err := cfg.Unset(configFlagVals.unset); err != nil {
			return err
		}
		return cfg.Save()

	default:
		return printConfigList(cfg)
	}
}

func printConfigList(cfg *config.Config) error {
	values := cfg.List()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(os.Stdout, "%s=%s\n", k, values[k])
	}
	return nil
}
