package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fathomquant/supervisor/pkg/client"
)

var abortCmd = &cobra.Command{
	Use:   "abort <job-id>",
	Short: "Request cooperative cancellation of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runAbort,
}

func runAbort(cmd *cobra.Command, args []string) error {
	apiURL, _ := cmd.Flags().GetString("api")
	c := client.New(apiURL)

	job, err := c.Abort(args[0])
	if err != nil {
		return fmt.Errorf("abort: %w", err)
	}
	return printJob(job)
}
