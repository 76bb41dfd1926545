// Command bypasscheck fails when a row-security bypass call site is not
// listed in the allowlist. CI runs it against the repository root.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/harborlock/harborlock/internal/bypasscheck"
)

func main() {
	root := flag.String("root", ".", "repository root to scan")
	allowlistPath := flag.String("allowlist", "bypass_allowlist.yaml", "allowlist file")
	flag.Parse()

	allow, err := bypasscheck.LoadAllowlist(*allowlistPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bypasscheck: %v\n", err)
		os.Exit(2)
	}

	violations, err := bypasscheck.Check(*root, allow)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bypasscheck: %v\n", err)
		os.Exit(2)
	}
	if len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "unlisted bypass call: %s in %s\n", v.Function, v.File)
		}
		os.Exit(1)
	}
}
