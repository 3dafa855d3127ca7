// Command uarttool bridges a UART to stdio or writes a string to it.
package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/luhtfiimanal/uarttool/internal/uarttool"
)

// Set via ldflags.
var version = "dev"

func main() {
	tool := uarttool.New(filepath.Base(os.Args[0]), version)
	os.Exit(tool.Run(context.Background(), os.Args[1:]))
}
