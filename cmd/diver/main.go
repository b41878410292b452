package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err == flag.ErrHelp {
		os.Exit(1)
	} else if err == ErrFaultsFound {
		os.Exit(2)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "", "-h", "--help", "help":
		usage(stderr)
		return flag.ErrHelp
	case "explore":
		return NewExploreCommand(stdout, stderr).Run(ctx, args)
	case "version":
		fmt.Fprintf(stdout, "diver %s\n", Version)
		return nil
	default:
		return fmt.Errorf(`diver %s: unknown command`, cmd)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `
Diver is a concolic test generator for stack machine programs.

Usage:

	diver <command> [arguments]

The commands are:

	explore     explore the paths of a program and report faults
	version     print the version
	help        this screen
`[1:])
}
