// Command meshsdf computes the signed distance from every vertex of a query
// surface to a reference surface and writes one value per line.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "meshsdf:", err)
		os.Exit(1)
	}
}
