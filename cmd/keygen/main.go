// keygen mints license keys for manual grants. Keys are 16 hex
// characters displayed as four hyphen-separated groups.
package main

import (
	"flag"
	"fmt"
	"os"

	"closethopper/pkg/contracts/licensing"
)

func main() {
	count := flag.Int("n", 1, "number of keys to generate")
	flag.Parse()

	if *count < 1 {
		fmt.Fprintln(os.Stderr, "keygen: -n must be at least 1")
		os.Exit(2)
	}

	for i := 0; i < *count; i++ {
		key, err := licensing.NewKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(key)
	}
}
