// Command exceedctl runs exceedance queries and exports against the source
// catalog without starting the HTTP service.
//
// Usage:
//
//	exceedctl sources
//	exceedctl variables zurich
//	exceedctl query -s zurich --point 47.37,8.54 --season summer --date 2025-07-19 --var t_2m:C=30
//	exceedctl export -s zurich --bbox 45,48,6,10 --var t_2m:C -o zurich.csv
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

type cli struct {
	Globals

	Sources   sourcesCmd   `cmd:"" help:"List catalog sources."`
	Variables variablesCmd `cmd:"" help:"List the variables of a source."`
	Query     queryCmd     `cmd:"" help:"Compute exceedance probabilities."`
	Export    exportCmd    `cmd:"" help:"Export selected records as CSV."`
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var c cli
	kctx := kong.Parse(&c,
		kong.Name("exceedctl"),
		kong.Description("Historical weather exceedance probabilities from the command line."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	c.Globals.out = os.Stdout
	kctx.FatalIfErrorf(kctx.Run(&c.Globals))
}
