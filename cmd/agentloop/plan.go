package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentloop"
)

// planFile is the YAML layout of --plan-file. A bare list of steps is
// accepted as well.
type planFile struct {
	Steps []string `yaml:"steps"`
}

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Pursue a goal with plan-and-execute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			goal, _ := cmd.Flags().GetString("goal")
			path, _ := cmd.Flags().GetString("plan-file")

			var steps []string
			if path != "" {
				var err error
				if steps, err = readPlanFile(path); err != nil {
					return err
				}
			}

			ctx, cancel, loop, _, err := setup(cmd, true, steps)
			if err != nil {
				return err
			}
			defer cancel()

			res, err := loop.Run(ctx, goal, func(o *agentloop.RunOptions) {
				o.PlanningMode = true
				o.InitialPlan = steps
			})
			if err != nil {
				return err
			}

			return printResult(cmd, loop, res)
		},
	}

	cmd.Flags().String("goal", "", "objective to pursue")
	cmd.Flags().String("plan-file", "", "YAML file with the initial steps")
	cmd.Flags().Int("max-replans", 25, "replanning rounds before giving up")
	_ = cmd.MarkFlagRequired("goal")

	return cmd
}

func readPlanFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read plan file")
	}

	return parsePlan(data)
}

func parsePlan(data []byte) ([]string, error) {
	var doc planFile
	if err := yaml.Unmarshal(data, &doc); err != nil || len(doc.Steps) == 0 {
		var list []string
		if err := yaml.Unmarshal(data, &list); err != nil {
			return nil, errors.Wrap(err, "parse plan file")
		}
		doc.Steps = list
	}

	for i, s := range doc.Steps {
		if s == "" {
			return nil, errors.Newf("plan step %d is empty", i+1)
		}
	}

	return doc.Steps, nil
}
