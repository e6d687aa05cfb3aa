package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fathomquant/supervisor/pkg/client"
	"github.com/fathomquant/supervisor/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Submit a job described by a YAML file",
	Long: `Submit a job from a YAML resource file.

Examples:
  # Submit a job
  supervisord apply -f ping-job.yaml`,
	RunE: runApplyCmd,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML job file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
}

// JobResource is the generic envelope a job definition file is parsed
// into before its spec is handed to the submission service.
type JobResource struct {
	APIVersion string            `yaml:"apiVersion"`
	Kind       string            `yaml:"kind"`
	Metadata   JobResourceMeta   `yaml:"metadata"`
	Spec       map[string]interface{} `yaml:"spec"`
}

type JobResourceMeta struct {
	Name     string            `yaml:"name"`
	JobType  string            `yaml:"jobType"`
	Labels   map[string]string `yaml:"labels,omitempty"`
}

func runApplyCmd(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("apply: read %s: %w", filename, err)
	}

	var resource JobResource
	if err := yaml.Unmarshal(data, &resource); err != nil {
		return fmt.Errorf("apply: parse %s: %w", filename, err)
	}

	if resource.Kind != "" && resource.Kind != "Job" {
		return fmt.Errorf("apply: unsupported resource kind: %s", resource.Kind)
	}
	if resource.Metadata.JobType == "" {
		return fmt.Errorf("apply: metadata.jobType is required")
	}

	meta := types.Metadata{}
	if resource.Metadata.Name != "" {
		meta["name"] = resource.Metadata.Name
	}
	for k, v := range resource.Metadata.Labels {
		meta["label."+k] = v
	}

	apiURL, _ := cmd.Flags().GetString("api")
	c := client.New(apiURL)

	job, err := c.Submit(resource.Metadata.JobType, types.Spec(resource.Spec), meta)
	if err != nil {
		return fmt.Errorf("apply: submit: %w", err)
	}

	fmt.Printf("job submitted: %s (type=%s, state=%s)\n", job.ID, job.JobType, job.State)
	return nil
}
