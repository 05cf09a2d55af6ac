package logging

import (
	"log"
	"os"
)

func init() {
	// cobra writes its own usage/error output to stderr; route the package
	// logger's output to stdout so piddiesync's phase/failure logging stays
	// distinguishable from CLI argument errors in a terminal.
	log.SetOutput(os.Stdout)
}
