package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/svbundle/cmd/svbundle/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Build   commands.BuildCmd  `cmd:"" help:"Build the bundle and copy static assets"`
		Watch   commands.WatchCmd  `cmd:"" help:"Rebuild whenever sources change"`
		Serve   commands.ServeCmd  `cmd:"" help:"Serve the build output for local development"`
		Verify  commands.VerifyCmd `cmd:"" help:"Build twice and check the output is identical"`
		Init    commands.InitCmd   `cmd:"" help:"Write the glTF Sample Viewer descriptor"`
		Debug   bool               `help:"Enable debug mode." env:"SVBUNDLE_DEBUG"`
		Tracing bool               `help:"Export traces and metrics over OTLP." env:"SVBUNDLE_TRACING"`
		Version kong.VersionFlag
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("svbundle"),
		kong.Description("Bundle the glTF Sample Viewer web application."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Tracing: cli.Tracing, Version: version})
	cmd.FatalIfErrorf(err)
}
