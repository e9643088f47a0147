//go:build linux

package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(newOptions()).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "memadvice: %v\n", err)
		os.Exit(1)
	}
}
