// Command generals runs one process of the Oral-Messages Byzantine
// agreement protocol, either as the Commander (process 0) or as a
// Lieutenant.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "generals",
	Short: "Oral-Messages Byzantine agreement over UDP",
}
