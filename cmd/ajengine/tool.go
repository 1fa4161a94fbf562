package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/tools"
)

func newToolCmd(a *app) *cobra.Command {
	var paramsJSON string

	cmd := &cobra.Command{
		Use:   "tool <name>",
		Short: "Run a single tool call",
		Long: "Run one tool through the dispatcher with the same policy the engine applies.\n\nTools: " +
			strings.Join(toolNames(), ", "),
		Example: `  ajengine tool list_dir --params '{"path": "."}'
  ajengine tool execute_shell --params '{"command": "uname -a"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(paramsJSON)
			if err != nil {
				return err
			}
			if err := a.wire(nil); err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			res, meta := a.dispatcher.RunStep(ctx, task.Step{StepID: "cli_1", Tool: args[0], Params: params}, a.ws)
			if res.Output != "" {
				fmt.Fprintln(a.stdout, strings.TrimRight(res.Output, "\n"))
			}
			if res.Succeeded() {
				return nil
			}
			if meta != nil {
				return fmt.Errorf("%s (%s)", res.Error, meta.ErrorType)
			}
			return fmt.Errorf("%s", res.Error)
		},
	}
	cmd.Flags().StringVar(&paramsJSON, "params", "{}", "Tool parameters as a JSON object")
	return cmd
}

func parseParams(raw string) (map[string]interface{}, error) {
	params := map[string]interface{}{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("invalid --params: %w", err)
	}
	return params, nil
}

func toolNames() []string {
	kinds := tools.Kinds()
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, k.String())
	}
	return names
}
