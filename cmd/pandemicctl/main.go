// Command pandemicctl is a thin CLI over pkg/client, one subcommand per
// request variant, grounded in the original pandemic-cli and the pack's
// cobra command trees.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pandemicd/pandemic/internal/config"
	"github.com/pandemicd/pandemic/pkg/client"
	"github.com/pandemicd/pandemic/protocol"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var socketPath string

	root := &cobra.Command{
		Use:   "pandemicctl",
		Short: "Command-line client for the pandemic daemon",
	}
	root.PersistentFlags().StringVar(&socketPath, "socket-path", config.DefaultSocketPath, "path to the control-plane Unix socket")

	root.AddCommand(
		newRegisterCommand(&socketPath),
		newDeregisterCommand(&socketPath),
		newListPluginsCommand(&socketPath),
		newGetPluginCommand(&socketPath),
		newSubscribeCommand(&socketPath),
		newUnsubscribeCommand(&socketPath),
		newPublishCommand(&socketPath),
		newGetHealthCommand(&socketPath),
	)
	return root
}

func dial(socketPath *string) (*client.Client, error) {
	return client.Dial(*socketPath)
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

func newRegisterCommand(socketPath *string) *cobra.Command {
	var name, version, description string
	var configPairs []string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a plugin",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(socketPath)
			if err != nil {
				return err
			}
			defer c.Close()

			p := protocol.Plugin{Name: name, Version: version}
			if description != "" {
				p.Description = &description
			}
			if len(configPairs) > 0 {
				p.Config = make(map[string]string, len(configPairs))
				for _, pair := range configPairs {
					k, v, ok := strings.Cut(pair, "=")
					if !ok {
						return fmt.Errorf("invalid --config value %q, want key=value", pair)
					}
					p.Config[k] = v
				}
			}

			resp, err := c.Register(p)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "plugin name (required)")
	cmd.Flags().StringVar(&version, "version", "", "plugin version")
	cmd.Flags().StringVar(&description, "description", "", "human-readable description")
	cmd.Flags().StringSliceVar(&configPairs, "config", nil, "key=value configuration hint, repeatable")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newDeregisterCommand(socketPath *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "deregister",
		Short: "Deregister a plugin",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(socketPath)
			if err != nil {
				return err
			}
			defer c.Close()
			resp, err := c.Deregister(name)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "plugin name (required)")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newListPluginsCommand(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list-plugins",
		Short: "List registered plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(socketPath)
			if err != nil {
				return err
			}
			defer c.Close()
			plugins, err := c.ListPlugins()
			if err != nil {
				return err
			}
			return printJSON(plugins)
		},
	}
}

func newGetPluginCommand(socketPath *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "get-plugin",
		Short: "Look up a single plugin",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(socketPath)
			if err != nil {
				return err
			}
			defer c.Close()
			p, err := c.GetPlugin(name)
			if err != nil {
				return err
			}
			return printJSON(p)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "plugin name (required)")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newSubscribeCommand(socketPath *string) *cobra.Command {
	var topics []string
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe the connection's bound plugin to topic patterns (replaces the existing list)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(socketPath)
			if err != nil {
				return err
			}
			defer c.Close()
			resp, err := c.Subscribe(topics)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringSliceVar(&topics, "topic", nil, "topic pattern, repeatable; trailing * matches a prefix")
	return cmd
}

func newUnsubscribeCommand(socketPath *string) *cobra.Command {
	var topics []string
	cmd := &cobra.Command{
		Use:   "unsubscribe",
		Short: "Remove topic patterns from the connection's bound plugin's subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(socketPath)
			if err != nil {
				return err
			}
			defer c.Close()
			resp, err := c.Unsubscribe(topics)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringSliceVar(&topics, "topic", nil, "topic pattern to remove, repeatable")
	return cmd
}

func newPublishCommand(socketPath *string) *cobra.Command {
	var topic, data string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an event",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(socketPath)
			if err != nil {
				return err
			}
			defer c.Close()

			var payload any
			if data != "" {
				if err := json.Unmarshal([]byte(data), &payload); err != nil {
					return fmt.Errorf("invalid --data JSON: %w", err)
				}
			}
			resp, err := c.Publish(topic, payload)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "event topic (required)")
	cmd.Flags().StringVar(&data, "data", "", "event payload as a JSON literal")
	cmd.MarkFlagRequired("topic")
	return cmd
}

func newGetHealthCommand(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Fetch daemon health metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(socketPath)
			if err != nil {
				return err
			}
			defer c.Close()
			m, err := c.GetHealth()
			if err != nil {
				return err
			}
			return printJSON(m)
		},
	}
}
