package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gomemcached",
	Short: "A memcached-text-protocol key/value server",
	Long:  "gomemcached is a memcached-compatible server core implemented in Go for learning purposes.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
