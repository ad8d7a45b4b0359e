// Package main is the entry point of the rtloop command.
package main

import (
	"github.com/tebeka/atexit"

	"github.com/sarchlab/rtloop/cmd"
)

func main() {
	atexit.Exit(cmd.Execute())
}
