// Command satasim runs simulated SATA links, drives and arrays.
package main

import (
	"github.com/sarchlab/satalink/satasim/cmd"
	"github.com/tebeka/atexit"
)

func main() {
	atexit.Exit(cmd.Execute())
}
