package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/agents"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/config"
)

func newAgentsCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the remote agents the backend knows about",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(a.cfg.Agents.URL) == "" {
				return fmt.Errorf("%w: set agents.url or %sAGENTS_URL", agents.ErrNotConfigured, config.EnvPrefix)
			}
			if err := a.wire(nil); err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			ctx, cancelTimeout := context.WithTimeout(ctx, a.agentTimeout())
			defer cancelTimeout()

			res := a.dispatcher.Dispatch(ctx, "list_agents", map[string]interface{}{"force": force}, a.ws)
			if !res.Success {
				return fmt.Errorf("%s", res.Error)
			}
			fmt.Fprintln(a.stdout, headerStyle.Render(fmt.Sprintf("%d agents", len(a.state.Agents()))))
			fmt.Fprintln(a.stdout, strings.TrimRight(res.Output, "\n"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Bypass the discovery cache")
	return cmd
}
