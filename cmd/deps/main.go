package deps

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/objtk/objview"
	"github.com/objtk/objview/cmd"
)

func Main(args []string) {
	c := cmd.NewObjCmd()
	var verbose *bool
	c.SetupFlags = func() error {
		verbose = c.Flags.Bool("v", false, "also list imported entries (PE)")
		return nil
	}
	c.Show = func(w io.Writer, path string, obj *objview.Any) error {
		switch obj.Format {
		case objview.FormatElf:
			dyn, err := obj.Elf.Dynamic()
			if err != nil {
				return err
			}
			if interp := obj.Elf.Interp(); interp != "" {
				fmt.Fprintf(w, "interp %s\n", interp)
			}
			for _, lib := range dyn.Needed() {
				fmt.Fprintf(w, "needed %s\n", lib)
			}
			return nil

		case objview.FormatMachO:
			f := obj.MachO
			if obj.MachOFat != nil {
				var err error
				if f, err = obj.MachOFat.Arches[0].Object(); err != nil {
					return err
				}
			}
			for _, lib := range f.Dylibs() {
				fmt.Fprintf(w, "dylib %s\n", lib)
			}
			return nil

		case objview.FormatPE:
			libs, err := obj.PE.Imports()
			if err != nil {
				return err
			}
			for _, lib := range libs {
				fmt.Fprintf(w, "import %s (%d entries)\n", lib.Library, len(lib.Entries))
				if !*verbose {
					continue
				}
				for _, e := range lib.Entries {
					if e.ByOrdinal {
						fmt.Fprintf(w, "  ordinal %d\n", e.Ordinal)
					} else {
						fmt.Fprintf(w, "  %s\n", e.Name)
					}
				}
			}
			return nil
		}
		return errors.Errorf("no dependency info in %s", obj.Format)
	}
	os.Exit(c.Run(args))
}

func init() { cmd.Register("deps", "list shared library dependencies", Main) }
