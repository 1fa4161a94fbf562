package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/executor"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/planning"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
)

func newBatchCmd(a *app) *cobra.Command {
	var (
		pattern   string
		operation string
		argsJSON  string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run one tool over every file matching a pattern",
		Example: `  ajengine batch --pattern '**/*.go' --operation read_file
  ajengine batch --pattern 'docs/*.md' --operation replace_in_file --args '{"old": "v1", "new": "v2"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			extra, err := parseParams(argsJSON)
			if err != nil {
				return err
			}
			if err := a.wire(nil); err != nil {
				return err
			}

			steps, err := planning.ExpandBatch(task.Step{
				StepID: "cli_batch",
				Tool:   planning.BatchTool,
				Params: map[string]interface{}{"pattern": pattern, "operation": operation, "args": extra},
			}, a.ws)
			if err != nil {
				return err
			}
			if len(steps) == 0 {
				fmt.Fprintln(a.stderr, dimStyle.Render("no files match "+pattern))
				return nil
			}

			var mu sync.Mutex
			exec := executor.New(a.dispatcher.Runner(a.ws),
				executor.WithStepTimeout(a.cfg.StepTimeout()),
				executor.WithStepCallback(func(step task.Step, res task.StepResult) {
					a.state.RecordStep(step, res)
					if asJSON {
						return
					}
					mu.Lock()
					defer mu.Unlock()
					fmt.Fprintln(a.stderr, statusLine(res.Succeeded(), step.Tool, stepDetail(step, res)))
				}),
			)

			ctx, cancel := signalContext()
			defer cancel()

			result := exec.ExecuteBatch(ctx, steps, steps[0].BatchID, a.ws)
			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(a.stdout, "%s: %d succeeded, %d failed in %s\n",
					result.BatchID, len(result.Successful), len(result.Failed), result.Duration.Round(time.Millisecond))
				for _, f := range result.Failed {
					fmt.Fprintf(a.stdout, "  %s %s: %s\n", failStyle.Render(string(f.ErrorType)), f.StepID, f.Error)
				}
			}

			if result.ShouldHalt() {
				return fmt.Errorf("batch %s hit a non-recoverable failure", result.BatchID)
			}
			if result.AllFailed() {
				return fmt.Errorf("every step of batch %s failed", result.BatchID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "", "Glob relative to the working directory, ** matches across directories")
	cmd.Flags().StringVar(&operation, "operation", "", "Tool to run for each match")
	cmd.Flags().StringVar(&argsJSON, "args", "", "Extra tool parameters as a JSON object")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the batch result as JSON")
	_ = cmd.MarkFlagRequired("pattern")
	_ = cmd.MarkFlagRequired("operation")
	return cmd
}
