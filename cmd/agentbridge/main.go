// agentbridge drives a Claude Code session from Slack channels.
package main

import (
	"os"

	"github.com/steveyegge/agentbridge/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
