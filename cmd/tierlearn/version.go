package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tierlearn/internal/version"
)

// Version returns the current version
func Version() string {
	return version.Get()
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print the version number",
	Annotations: map[string]string{noState: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tierlearn version %s\n", Version())
	},
}
