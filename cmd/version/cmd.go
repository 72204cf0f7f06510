package version

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// BuildVersion can be set at link time to override the version reported for
// binaries built outside a module aware build.
var BuildVersion = "n/a"

// New constructs the command reporting the extpack build version.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the extpack version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, ok := debug.ReadBuildInfo()
			if !ok {
				return fmt.Errorf("no build info available")
			}
			version := info.Main.Version
			if BuildVersion != "n/a" {
				version = BuildVersion
			}
			fmt.Fprintf(cmd.OutOrStdout(), "extpack %s %s\n", version, info.GoVersion)
			return nil
		},
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}
}
