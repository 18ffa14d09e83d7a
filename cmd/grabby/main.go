package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "grabby",
		Short: "Discord bot that downloads and re-posts linked media",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "Path to the TOML config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and serve embed requests",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
