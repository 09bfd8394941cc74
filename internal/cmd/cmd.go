// Package cmd defines the CLI structure for kong parsing.
package cmd

// Log holds the logging flags shared by all commands.
type Log struct {
	Level string `help:"Log level: debug, info, warn, error" default:"info" env:"OPCBRIDGE_LOG_LEVEL"`
	File  string `help:"Log file path (default: none; logs only to console)" env:"OPCBRIDGE_LOG_FILE"`
}

// CLI is the root command structure.
type CLI struct {
	Log `embed:"" prefix:"log."`

	Serve Serve `cmd:"" default:"withargs" help:"Serve Open Pixel Control to attached USB lighting controllers"`
}
