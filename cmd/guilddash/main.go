package main

import (
	"context"
	"fmt"
	"os"

	"github.com/small-frappuccino/guilddash/pkg/app"
)

// main is the entry point of the guild dashboard.
func main() {
	if err := app.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(1)
	}
}
