package main

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/joshuapare/arenakit/internal/format"
)

// Set at link time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func init() {
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tool version and the arena format it writes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion()
		},
	}
}

// VersionInfo is the version command's report.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Built     string `json:"built"`
	Go        string `json:"go"`
	Signature string `json:"signature"`
	Format    string `json:"format"`
	PageSize  int    `json:"pageSize"`
	MaxPages  int    `json:"maxPages"`
}

func collectVersion() VersionInfo {
	return VersionInfo{
		Version:   version,
		Commit:    commit,
		Built:     date,
		Go:        runtime.Version(),
		Signature: string(format.Magic),
		Format:    numbers.Sprintf("%d.%d", format.MajorVersion, format.MinorVersion),
		PageSize:  format.PageSize,
		MaxPages:  format.MaxPageCount,
	}
}

func runVersion() error {
	v := collectVersion()
	if jsonOut {
		return printJSON(v)
	}

	printInfo("arenactl %s (%s, built %s, %s)\n", v.Version, v.Commit, v.Built, v.Go)
	printInfo("Writes format %s %q: %s byte pages, up to %s pages\n",
		v.Format, v.Signature, numbers.Sprint(v.PageSize), numbers.Sprint(v.MaxPages))
	return nil
}
