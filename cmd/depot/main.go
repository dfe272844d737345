// Command depot is the CLI for the content-addressed desktop app/runtime
// distribution manager (spec §6): install/uninstall/update/preinstall/
// repair/config verbs driving the Transaction and Repair Engines.
package main

import "os"

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		return exitCodeFor(err)
	}
	return 0
}
