// Command portalctl signs in to the school backend from a terminal and
// manages the payment reconcile queue.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Getenv, openAsynqQueue).Execute(); err != nil {
		os.Exit(1)
	}
}
