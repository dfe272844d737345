package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// documentInfoCmd is a placeholder for the `document-info FILE` verb (spec
// §6): in the original design this is served by a portal D-Bus interface
// external to this engine. It's wired into the verb table so `depot help`
// documents the full surface, but the portal collaborator itself is out of
// scope here.
var documentInfoCmd = &cobra.Command{
	Use:    "document-info FILE",
	Short:  "Query portal document info for FILE (external collaborator, not implemented)",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return fmt.Errorf("document-info is served by the portal D-Bus interface, not this engine")
	},
}
