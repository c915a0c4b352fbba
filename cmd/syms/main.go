package syms

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/objtk/objview"
	"github.com/objtk/objview/cmd"
	"github.com/objtk/objview/elf"
	"github.com/objtk/objview/macho"
	"github.com/objtk/objview/pe"
)

func Main(args []string) {
	c := cmd.NewObjCmd()
	var dynamic *bool
	c.SetupFlags = func() error {
		dynamic = c.Flags.Bool("dyn", false, "prefer the dynamic symbol table (ELF)")
		return nil
	}
	c.Show = func(w io.Writer, path string, obj *objview.Any) error {
		switch obj.Format {
		case objview.FormatElf:
			return showElf(w, obj.Elf, *dynamic)
		case objview.FormatMachO:
			if obj.MachOFat != nil {
				for _, a := range obj.MachOFat.Arches {
					thin, err := a.Object()
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s:\n", a.Cpu)
					if err := showMachO(w, thin); err != nil {
						return err
					}
				}
				return nil
			}
			return showMachO(w, obj.MachO)
		case objview.FormatPE:
			return showPE(w, obj.PE)
		}
		return errors.Errorf("no symbol table in %s", obj.Format)
	}
	os.Exit(c.Run(args))
}

func init() { cmd.Register("syms", "list the symbol table", Main) }

func showElf(w io.Writer, f *elf.File, dynamic bool) error {
	table, err := f.Symbols()
	if dynamic || err != nil {
		if table, err = f.DynamicSymbols(); err != nil {
			return err
		}
	}
	for i := 0; i < table.Count(); i++ {
		sym, err := table.Symbol(i)
		if err != nil {
			return err
		}
		name, err := sym.Name()
		if err != nil {
			name = "?"
		}
		fmt.Fprintf(w, "%#016x %-8s %-8s %s\n", sym.Value, sym.Bind, sym.Type, name)
	}
	return nil
}

func showMachO(w io.Writer, f *macho.File) error {
	if f.Symtab == nil {
		return errors.New("image has no LC_SYMTAB")
	}
	for i := 0; i < f.Symtab.Count(); i++ {
		sym, err := f.Symtab.Symbol(i)
		if err != nil {
			return err
		}
		name, err := sym.Name()
		if err != nil {
			name = "?"
		}
		vis := "local"
		if sym.External() {
			vis = "external"
		}
		if sym.Undefined() {
			vis = "undefined"
		}
		fmt.Fprintf(w, "%#016x %-10s %s\n", sym.Value, vis, name)
	}
	return nil
}

func showPE(w io.Writer, f *pe.File) error {
	table, err := f.Symbols()
	if err != nil {
		return err
	}
	for i := 0; i < table.Count(); i++ {
		sym, err := table.Symbol(i)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%#08x sec=%-3d %s\n", sym.Value, sym.SectionNumber, sym.Name)
		i += int(sym.NumberOfAuxSymbols)
	}
	return nil
}
