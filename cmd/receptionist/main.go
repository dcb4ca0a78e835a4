// Command receptionist runs the voice receptionist of Дентална клиника Здраве.
//
// Usage:
//
//	receptionist serve   - HTTP control surface and websocket event stream
//	receptionist call    - one terminal call on the local microphone and speaker
//
// Settings come from receptionist.yaml and environment variables; see internal/config.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "receptionist",
	Short:         "Realtime voice receptionist for a dental clinic",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(serveCmd, callCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
