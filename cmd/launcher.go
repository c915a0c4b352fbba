package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
)

type command struct {
	name, desc string
	main       func(args []string)
}

var commands map[string]*command
var order []string
var pad int

func init() { commands = make(map[string]*command) }

func Register(name, desc string, main func(args []string)) {
	if len(name) > pad {
		pad = len(name)
	}
	commands[name] = &command{name, desc, main}
	order = append(order, name)
}

func usage(w io.Writer, prog string) {
	fmt.Fprintf(w, "Usage: %s <command> [options] <file>...\n\nAvailable commands:\n", prog)
	for _, name := range order {
		c := commands[name]
		fmt.Fprintf(w, "  %-*s  %s\n", pad, c.name, c.desc)
	}
	fmt.Fprintln(w)
}

func Main() {
	if len(os.Args) < 2 {
		usage(os.Stderr, os.Args[0])
		os.Exit(1)
	}
	c, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage(os.Stderr, os.Args[0])
		os.Exit(1)
	}
	args := append([]string{strings.Join(os.Args[:2], " ")}, os.Args[2:]...)
	c.main(args)
}
