package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fzft/go-reactor/cmd"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("reactor-cli", pflag.ExitOnError)
	timeout := fs.Duration("timeout", 5*time.Second, "Dial and request timeout.")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: reactor-cli [flags] host port")
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(1)
	}
	port, err := strconv.Atoi(fs.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid port %q\n", fs.Arg(1))
		os.Exit(1)
	}

	cli := cmd.NewCli(fs.Arg(0), port, *timeout, os.Stdout)
	if err := cli.Run(os.Stdin); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
