package main

import (
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/byteness/throttle/cli"
)

// Version is provided at compile time
var Version = "dev"

func main() {
	app := kingpin.New("throttled", "Tier-aware, load-adaptive API rate limiting")
	app.Version(Version)

	t := cli.ConfigureGlobals(app)
	cli.ConfigureServerCommand(app, t)
	cli.ConfigureCheckCommand(app, t)
	cli.ConfigureLoadTestCommand(app, t)

	kingpin.MustParse(app.Parse(os.Args[1:]))
}
