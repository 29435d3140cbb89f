package main

import (
	"context"
	"fmt"
	"os"

	"github.com/docopt/docopt-go"
	"github.com/surrealdb/gqlcache.go/contrib/selgen"
)

const version = "0.1.0"

const usage = `Compile GraphQL documents into selection artifacts.

Usage:
    selgen --schema=<path> [--out=<dir>] [--verbose] <document>...
    selgen -h | --help
    selgen --version

Options:
    -h --help        Show this screen.
    --version        Show version.
    --schema=<path>  Schema SDL file the documents are checked against.
    --out=<dir>      Directory the artifacts are written to [default: __generated__].
    --verbose        Log every document and artifact.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	config := selgen.NewConfig()
	if config.SchemaPath, err = opts.String("--schema"); err != nil {
		fail(err)
	}
	if config.OutputDir, err = opts.String("--out"); err != nil {
		fail(err)
	}
	config.Verbose, _ = opts.Bool("--verbose")
	if docs, ok := opts["<document>"].([]string); ok {
		config.Documents = docs
	}

	written, err := selgen.Do(context.Background(), config)
	if err != nil {
		fail(err)
	}
	for _, path := range written {
		fmt.Println(path)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
