// Package main implements the smoosense binary: a local query server over
// the CSV, Parquet and JSON files below a root directory.
package main

import (
	"os"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(execute(os.Args[1:]))
}
