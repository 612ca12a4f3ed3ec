package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/byteness/throttle/config"
	"github.com/byteness/throttle/logging"
)

// CheckCommandOutput represents the JSON output from the check command.
type CheckCommandOutput struct {
	Path  string `json:"path"`
	Valid bool   `json:"valid"`
	Tiers int    `json:"tiers"`
	Users int    `json:"users"`
	Keys  int    `json:"keys"`
}

// ConfigureCheckCommand sets up the check command with kingpin.
func ConfigureCheckCommand(app *kingpin.Application, t *Throttle) {
	cmd := app.Command("check", "Validate a configuration file without starting the server")

	cmd.Action(func(c *kingpin.ParseContext) error {
		err := CheckCommand(t)
		app.FatalIfError(err, "check")
		return nil
	})
}

// CheckCommand loads and validates the configuration file, printing a JSON
// summary on success. Exits non-zero on validation failure.
func CheckCommand(t *Throttle) error {
	manager, err := config.Load(t.ConfigPath, logging.NewNopLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return err
	}

	snap := manager.Snapshot()
	tiers, users, keys := snap.Counts()
	return json.NewEncoder(os.Stdout).Encode(CheckCommandOutput{
		Path:  manager.Path(),
		Valid: true,
		Tiers: tiers,
		Users: users,
		Keys:  keys,
	})
}
