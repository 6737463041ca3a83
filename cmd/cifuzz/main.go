package main

import (
	"log/slog"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/cifuzz/cmd/cifuzz/commands"
	foundationerrors "git.home.luguber.info/inful/cifuzz/internal/foundation/errors"
	"git.home.luguber.info/inful/cifuzz/internal/version"
)

func main() {
	cli := &commands.CLI{}
	global := commands.NewGlobal()
	parser := kong.Parse(cli,
		kong.Name("cifuzz"),
		kong.Description("Continuously fuzz a target built from a git repository."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
		kong.Bind(global),
	)
	if err := parser.Run(global); err != nil {
		foundationerrors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
	}
}
