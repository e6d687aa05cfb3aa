package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fathomquant/supervisor/pkg/client"
)

var getCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Fetch a single job by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	apiURL, _ := cmd.Flags().GetString("api")
	c := client.New(apiURL)

	job, err := c.Get(args[0])
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	return printJob(job)
}
