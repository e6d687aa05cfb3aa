package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/fathomquant/supervisor/pkg/client"
)

var (
	listState   string
	listJobType string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, optionally filtered by state and/or job type",
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listState, "state", "", "Filter by job state (QUEUED, RUNNING, SUCCEEDED, FAILED, ABORTED, ORPHANED)")
	listCmd.Flags().StringVar(&listJobType, "job-type", "", "Filter by job type")
}

func runList(cmd *cobra.Command, args []string) error {
	apiURL, _ := cmd.Flags().GetString("api")
	c := client.New(apiURL)

	jobs, err := c.List(listState, listJobType)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(jobs)
}
