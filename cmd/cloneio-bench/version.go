package main

import (
	"fmt"
	"runtime"

	"cloneio/pkg/helper/banner"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func newVersionCmd() *cobra.Command {
	var showBanner bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Run: func(cmd *cobra.Command, args []string) {
			if showBanner {
				banner.Version = version
				banner.GitCommit = gitCommit
				banner.BuildTime = buildTime
				banner.Print()
				return
			}
			fmt.Printf("cloneio-bench %s\n", version)
			fmt.Printf("Git Commit: %s\n", gitCommit)
			fmt.Printf("Build Time: %s\n", buildTime)
			fmt.Printf("Go Version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}

	cmd.Flags().BoolVar(&showBanner, "banner", false, "Display ASCII banner with version info")
	return cmd
}
