package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var mkconfCmd = &cobra.Command{
	Use:   "mkconf",
	Short: "Write the current configuration to the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Create(cfgPath)
		if err != nil {
			return errors.Wrap(err, "creating configuration file")
		}
		defer f.Close()
		return errors.Wrap(cfg.Write(f), "writing configuration")
	},
}

var confCmd = &cobra.Command{
	Use:   "conf",
	Short: "Print the configuration in effect",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cfg.Write(os.Stdout)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("liquidplan version %v\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(mkconfCmd, confCmd, versionCmd)
}
