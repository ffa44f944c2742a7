// Command streamctl is the operator CLI: it submits and inspects processing
// jobs, reads and edits items through the cache-aside service, and publishes
// test events on the bus.
package main

import (
	"fmt"
	"os"
)

func main() {
	c := &cli{}
	defer c.close()
	if err := newRootCmd(c).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		c.close()
		os.Exit(1)
	}
}
