// log.go - logging for the memory facade

package nvmain

import (
	"os"

	"github.com/charmbracelet/log"
)

// defaultLogger is the Logger NewSystem installs on System.Logger.
// Tests and the CLI can assign their own to capture or silence output.
var defaultLogger = log.NewWithOptions(os.Stderr, log.Options{
	Prefix: "nvmain",
})
