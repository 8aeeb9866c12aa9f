package main

import (
	"fmt"
	goruntime "runtime"

	"github.com/spf13/cobra"

	"github.com/sbl8/tensorc/kernels"
	"github.com/sbl8/tensorc/model"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "tensorc %s\n", version)
			fmt.Fprintf(w, "program format: v%d\n", model.Version)
			fmt.Fprintf(w, "go: %s %s/%s, %d lanes\n", goruntime.Version(), goruntime.GOOS, goruntime.GOARCH, kernels.Lanes)
		},
	}
}
