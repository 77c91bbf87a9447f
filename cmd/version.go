////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Handles command-line version functionality

package cmd

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
)

// SEMVER is the version of this build.
const SEMVER = "0.1.0"

// Version returns the version line followed by the module dependencies the
// binary was built with.
func Version() string {
	out := fmt.Sprintf("Parley v%s -- %s\n\n", SEMVER, gitVersion())
	out += fmt.Sprintf("Dependencies:\n\n%s\n", dependencies())
	return out
}

func gitVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return info.Main.Version
}

func dependencies() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, dep := range info.Deps {
		b.WriteString(dep.Path + " " + dep.Version + "\n")
	}
	return b.String()
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and dependency information for the Parley binary",
	Long:  `Print the version and dependency information for the Parley binary`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(Version())
	},
}
