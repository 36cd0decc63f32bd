// Command cloneio-bench drives the clone I/O engine against an in-memory
// object store, for demonstration and rough benchmarking without a real
// Ceph cluster behind it.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
