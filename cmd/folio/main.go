// folio command line: ingest documents and inspect stored resources
package main

import (
	"fmt"
	"os"
)

func main() {
	root, c := newRootCmd()
	err := root.Execute()
	if cerr := c.teardown(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
