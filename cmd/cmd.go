// Package cmd holds the shared scaffolding for the inspection
// subcommands: flag handling, input loading, and the parse itself.
package cmd

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/objtk/objview"
	"github.com/objtk/objview/logflags"
)

type ObjCmd struct {
	Flags *flag.FlagSet

	SetupFlags func() error
	Show       func(w io.Writer, path string, obj *objview.Any) error
}

func NewObjCmd() *ObjCmd {
	fs := flag.NewFlagSet("cli", flag.ExitOnError)
	return &ObjCmd{Flags: fs}
}

func (c *ObjCmd) Run(args []string) int {
	fs := c.Flags
	logSpec := fs.String("log", "", "enable decode logging for layers (elf,macho,pe,ar,detect)")
	if c.SetupFlags != nil {
		if err := c.SetupFlags(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <file>...\n", args[0])
		fs.PrintDefaults()
	}
	fs.Parse(args[1:])
	if fs.NArg() < 1 {
		fs.Usage()
		return 1
	}
	if err := logflags.Setup(*logSpec); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	status := 0
	for _, path := range fs.Args() {
		if err := c.show(path); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			status = 1
		}
	}
	return status
}

func (c *ObjCmd) show(path string) error {
	p, err := os.ReadFile(path)
	if err != nil {
		return errors.WithStack(err)
	}
	obj, err := objview.Parse(p)
	if err != nil {
		return err
	}
	return c.Show(os.Stdout, path, obj)
}
