package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "inbox-dispatcher",
		Usage:                 "Run matched workflow triggers for received activities",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewRunCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
