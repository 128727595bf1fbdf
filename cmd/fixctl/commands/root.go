// Package commands implements the fixctl command tree.
package commands

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverAddr is the gofixd admin address (host:port).
	serverAddr string

	// httpClient is shared by all commands.
	httpClient = &http.Client{Timeout: 10 * time.Second}
)

// rootCmd is the top-level cobra command for fixctl.
var rootCmd = &cobra.Command{
	Use:   "fixctl",
	Short: "CLI client for the gofixd daemon",
	Long:  "fixctl communicates with the gofixd admin HTTP endpoint to inspect and control FIX sessions.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:9200",
		"gofixd admin address (host:port)")

	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// get performs an admin GET and prints the body.
func get(path string) error {
	resp, err := httpClient.Get("http://" + serverAddr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

// post performs an admin POST and prints the body.
func post(path string) error {
	resp, err := httpClient.Post("http://"+serverAddr+path, "text/plain", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

// printResponse copies the response body to stdout, surfacing HTTP errors.
func printResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, string(body))
	}
	fmt.Print(string(body))
	return nil
}
