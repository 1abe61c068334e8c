// Package main provides the taskflow command line tool.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "taskflow",
		Usage:                 "Work with workflow templates",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Aliases:   []string{"v"},
				Usage:     "Check a YAML template spec for structural problems",
				ArgsUsage: "<template.yaml>",
				Action: func(_ context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() != 1 {
						return cli.Exit("expected exactly one template file", 2)
					}

					return validateFile(cmd.Args().First(), cmd.Root().Writer)
				},
			},
			{
				Name:      "start-nodes",
				Usage:     "List the nodes that open when an instance starts",
				ArgsUsage: "<template.yaml>",
				Action: func(_ context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() != 1 {
						return cli.Exit("expected exactly one template file", 2)
					}

					return printStartNodes(cmd.Args().First(), cmd.Root().Writer)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
