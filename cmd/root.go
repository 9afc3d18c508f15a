package cmd

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X cligate/cmd.Version=...".
var Version = "dev"

// InitVersion fills Version from the module build info when the binary was
// not stamped, so go install builds still report a release.
func InitVersion() {
	info, ok := debug.ReadBuildInfo()
	Version = versionFromBuild(Version, info, ok)
}

func versionFromBuild(stamped string, info *debug.BuildInfo, ok bool) string {
	if stamped != "dev" || !ok || info == nil {
		return stamped
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	return stamped
}

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	root := newRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "cligate",
		Short: "cligate exposes local AI coding CLIs as an OpenAI-compatible API",
		Long: `cligate serves the OpenAI chat completions, responses and models APIs by
running a locally installed agent CLI (GitHub Copilot or Claude Code) for every
request.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCommand())
	root.AddCommand(modelsCommand())
	root.AddCommand(versionCommand())
	return root
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cligate version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
			return nil
		},
	}
}
