package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fathomquant/supervisor/pkg/client"
	"github.com/fathomquant/supervisor/pkg/types"
)

var (
	submitJobType  string
	submitSpecJSON string
	submitMeta     map[string]string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new job",
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitJobType, "type", "", "Job type (must match a registered handler)")
	submitCmd.Flags().StringVar(&submitSpecJSON, "spec", "{}", "Job spec as a JSON object")
	submitCmd.Flags().StringToStringVar(&submitMeta, "meta", nil, "Metadata key=value pairs")
	_ = submitCmd.MarkFlagRequired("type")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var spec types.Spec
	if err := json.Unmarshal([]byte(submitSpecJSON), &spec); err != nil {
		return fmt.Errorf("submit: parse --spec: %w", err)
	}

	apiURL, _ := cmd.Flags().GetString("api")
	c := client.New(apiURL)

	job, err := c.Submit(submitJobType, spec, types.Metadata(submitMeta))
	if err != nil {
		return err
	}
	return printJob(job)
}

func printJob(job *types.Job) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(job)
}
