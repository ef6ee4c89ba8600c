// Command servoctl drives the servo firmware over its serial link and runs
// host-side simulations of the pulse generator.
package main

import (
	"fmt"
	"os"

	"github.com/benbjohnson/clock"
)

func main() {
	app := newApp(os.Stdout, clock.New())
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "servoctl: %v\n", err)
		os.Exit(1)
	}
}
