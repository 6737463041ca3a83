package commands

import (
	"fmt"

	"git.home.luguber.info/inful/cifuzz/internal/config"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Path  string `arg:"" type:"path" default:"cifuzz.json" help:"Where to write the configuration (.json, .yaml or .yml)"`
	Force bool   `help:"Overwrite existing configuration file"`
}

func (i *InitCmd) Run(g *Global) error {
	if err := config.Init(i.Path, i.Force); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(g.Out, "Wrote example configuration to %s\n", i.Path)
	return nil
}
