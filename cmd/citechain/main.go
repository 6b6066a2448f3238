// Command citechain resolves citation keys to bibliographic records.
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"github.com/roach88/citechain/internal/cli"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
