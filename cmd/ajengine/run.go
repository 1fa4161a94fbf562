package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/executor"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/llm"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/logger"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/orchestrator"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/session"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		asJSON       bool
		noParallel   bool
		showThinking bool
		maxSteps     int
	)

	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Plan and execute a natural-language task",
		Example: `  ajengine run "check disk usage on web01"
  ajengine run --no-parallel "rename every .yml file under deploy/ to .yaml"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if noParallel {
				a.cfg.ParallelEnabled = false
			}
			if maxSteps > 0 {
				a.cfg.MaxSteps = maxSteps
			}

			client, err := llm.NewClient(a.cfg.LLM)
			if err != nil {
				return err
			}
			if err := a.wire(llm.CounterFor(a.cfg.LLM, client.GetModelName())); err != nil {
				return err
			}
			embedder, err := llm.NewEmbedder(a.cfg.LLM)
			if err != nil {
				logger.Warn("embeddings disabled: %v", err)
				embedder = nil
			}
			store := a.openMemory(embedder)

			var mu sync.Mutex
			engine, err := orchestrator.New(orchestrator.Deps{
				LLM:         client,
				Dispatcher:  a.dispatcher,
				State:       a.state,
				Memory:      store,
				Workspace:   a.ws,
				MaxSteps:    a.cfg.MaxSteps,
				StepTimeout: a.cfg.StepTimeout(),
				OnStep: func(step task.Step, res task.StepResult) {
					if asJSON {
						return
					}
					mu.Lock()
					defer mu.Unlock()
					fmt.Fprintln(a.stderr, statusLine(res.Succeeded(), step.Tool, stepDetail(step, res)))
				},
				OnThinking: func(s string) {
					if showThinking && !asJSON {
						fmt.Fprint(a.stderr, thinkStyle.Render(s))
					}
				},
			})
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			res, runErr := engine.Run(ctx, strings.Join(args, " "))
			if showThinking && !asJSON && res.Thinking != "" {
				fmt.Fprintln(a.stderr)
			}

			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
				return runErr
			}
			if runErr != nil {
				return runErr
			}

			fmt.Fprint(a.stdout, renderMarkdown(a.stdout, res.Answer))
			if res.Warning != nil {
				fmt.Fprintln(a.stderr, warnStyle.Render("warning: answer quotes output that was never captured ("+res.Warning.String()+")"))
			}
			fmt.Fprintln(a.stderr, dimStyle.Render(fmt.Sprintf("%s after %d steps in %d rounds", res.Termination, res.StepsRun, res.Rounds)))
			if res.Termination == orchestrator.Halted {
				return fmt.Errorf("halted: %s", res.Reason)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run result as JSON")
	cmd.Flags().BoolVar(&noParallel, "no-parallel", false, "Run every step sequentially")
	cmd.Flags().BoolVar(&showThinking, "show-thinking", false, "Print the model's reasoning to stderr")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "Step budget for this run (default from config)")
	return cmd
}

func stepDetail(step task.Step, res task.StepResult) string {
	detail := executor.Truncate(session.StepTarget(step.Params), 60)
	if !res.Succeeded() && res.Error != "" {
		if detail != "" {
			detail += ": "
		}
		detail += executor.Truncate(res.Error, 120)
	}
	return detail
}
