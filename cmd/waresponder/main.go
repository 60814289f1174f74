// Command waresponder watches the operator's live WhatsApp Web session
// and answers new incoming 1:1 messages automatically, without ever
// overriding the human operator's own activity.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/TayyabAziz11/personal-ai-employee/cmd/waresponder/commands"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	rootCmd := commands.NewRootCmd(version)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
