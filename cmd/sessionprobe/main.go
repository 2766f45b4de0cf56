// sessionprobe verifies that an interactive CLI persists the sessions it is
// driven through.
package main

import (
	"os"

	"github.com/acolita/claude-session-probe/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
