// Command conversion-dispatcher relays conversion requests from the outbox to the Redis job queue.
//
// Subcommands:
//
//	run      poll the outbox until SIGINT/SIGTERM (default)
//	check    probe the store and the queue once
//	status   print pending events and per-lane queue counts
//	migrate  create or upgrade the store schema
//	config   print the effective configuration
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
