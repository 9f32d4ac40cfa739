package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "inbox-api",
		Usage:                 "Receive platform webhooks and manage workflow triggers",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			RunAPICommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
