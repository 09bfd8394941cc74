package main

import (
	"fmt"
	"os"

	"opcbridge/internal/cmd"
	"opcbridge/internal/log"

	// Register all device families.
	_ "opcbridge/device/enttec"
	_ "opcbridge/device/fadecandy"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"
)

func main() {
	var cli cmd.CLI
	ctx := kong.Parse(&cli,
		kong.Name("opcbridge"),
		kong.Description("Open Pixel Control server for USB lighting controllers."),
		kong.UsageOnError(),
		// Flag defaults may come from JSON/YAML/TOML files; explicit
		// flags and env vars override them.
		kong.Configuration(kong.JSON, flagConfigPaths(".json")...),
		kong.Configuration(kongyaml.Loader, flagConfigPaths(".yaml")...),
		kong.Configuration(kongtoml.Loader, flagConfigPaths(".toml")...),
	)

	logger, closeFiles, err := log.Setup(cli.Log.Level, cli.Log.File)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to setup logger:", err)
		os.Exit(2)
	}
	defer func() {
		for _, c := range closeFiles {
			_ = c.Close()
		}
	}()

	ctx.Bind(&cli)
	ctx.Bind(logger)

	err = ctx.Run()
	ctx.FatalIfErrorf(err)
}

func flagConfigPaths(ext string) []string {
	return []string{
		"~/.config/opcbridge/flags" + ext,
		"./opcbridge.flags" + ext,
	}
}
