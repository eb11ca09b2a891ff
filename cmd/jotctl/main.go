package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/matheus3301/jot/internal/apperr"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if globals.json {
			outputJSON(apperr.ToResult(err))
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
