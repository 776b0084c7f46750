// Command dfmigrate generates Dataform definitions from BigQuery job history.
package main

import (
	"os"

	"github.com/leapstack-labs/dfmigrate/internal/cli"
)

func main() {
	os.Exit(cli.ExitCode(cli.Execute()))
}
