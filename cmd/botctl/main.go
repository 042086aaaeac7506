package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/betbot/bothost/pkg/client"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	flagServer  string
	flagTimeout time.Duration

	api *client.Client
)

func main() {
	_ = godotenv.Load()

	def := os.Getenv("BOTHOST_SERVER")
	if def == "" {
		def = "http://localhost:3000"
	}
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", def, "bothost server URL (env BOTHOST_SERVER)")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 60*time.Second, "request timeout")

	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initClient

	rootCmd.AddCommand(listCmd, getCmd, uploadCmd, startCmd, stopCmd, restartCmd, deleteCmd, logsCmd, uptimeCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "botctl",
	Short:        "Manage bots hosted by a bothost server",
	SilenceUsage: true,
}

func initClient(cmd *cobra.Command, _ []string) error {
	s := strings.TrimSpace(flagServer)
	if s == "" {
		return fmt.Errorf("--server is empty")
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	api = client.New(s)
	return nil
}
