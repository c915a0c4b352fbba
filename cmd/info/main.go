package info

import (
	"fmt"
	"io"
	"os"

	"github.com/objtk/objview"
	"github.com/objtk/objview/cmd"
	"github.com/objtk/objview/elf"
	"github.com/objtk/objview/macho"
	"github.com/objtk/objview/pe"
)

func Main(args []string) {
	c := cmd.NewObjCmd()
	c.Show = func(w io.Writer, path string, obj *objview.Any) error {
		fmt.Fprintf(w, "%s: %s\n", path, obj.Format)
		switch obj.Format {
		case objview.FormatElf:
			return showElf(w, obj.Elf)
		case objview.FormatMachO:
			if obj.MachOFat != nil {
				return showFat(w, obj.MachOFat)
			}
			return showMachO(w, obj.MachO)
		case objview.FormatPE:
			return showPE(w, obj.PE)
		case objview.FormatArchive:
			return showArchive(w, obj.Archive)
		}
		return nil
	}
	os.Exit(c.Run(args))
}

func init() { cmd.Register("info", "dump headers, segments and sections", Main) }

func showElf(w io.Writer, f *elf.File) error {
	h := &f.Header
	fmt.Fprintf(w, "  %s %s %s entry=%#x\n", h.Class, h.Machine, h.Type, h.Entry)
	if interp := f.Interp(); interp != "" {
		fmt.Fprintf(w, "  interp %s\n", interp)
	}
	for _, p := range f.Progs {
		fmt.Fprintf(w, "  seg %-12s off=%#x vaddr=%#x filesz=%#x memsz=%#x\n",
			p.Type, p.Off, p.Vaddr, p.Filesz, p.Memsz)
	}
	for _, s := range f.Sections {
		name, err := s.Name()
		if err != nil {
			name = "?"
		}
		fmt.Fprintf(w, "  sec %-20s %-12s off=%#x size=%#x\n", name, s.Type, s.Off, s.Size)
	}
	return nil
}

func showMachO(w io.Writer, f *macho.File) error {
	fmt.Fprintf(w, "  %s %s %s ncmds=%d\n", f.Width, f.Cpu, f.Type, f.Ncmds)
	if entry, err := f.EntryPoint(); err == nil {
		fmt.Fprintf(w, "  entry %#x\n", entry)
	}
	for _, seg := range f.Segments {
		fmt.Fprintf(w, "  seg %-16s addr=%#x memsz=%#x off=%#x filesz=%#x\n",
			seg.Name, seg.Addr, seg.Memsz, seg.Offset, seg.Filesz)
		for _, sec := range seg.Sections {
			fmt.Fprintf(w, "    sec %-16s addr=%#x size=%#x\n", sec.Name, sec.Addr, sec.Size)
		}
	}
	return nil
}

func showFat(w io.Writer, f *macho.FatFile) error {
	for _, a := range f.Arches {
		fmt.Fprintf(w, "  arch %-8s off=%#x size=%#x\n", a.Cpu, a.Offset, a.Size)
		thin, err := a.Object()
		if err != nil {
			fmt.Fprintf(w, "    (%v)\n", err)
			continue
		}
		if err := showMachO(w, thin); err != nil {
			return err
		}
	}
	return nil
}

func showPE(w io.Writer, f *pe.File) error {
	fmt.Fprintf(w, "  %s %s entry=%#x base=%#x\n",
		f.OptionalHeader.Width, f.FileHeader.Machine, f.EntryPoint(), f.OptionalHeader.ImageBase)
	for _, s := range f.Sections {
		fmt.Fprintf(w, "  sec %-12s rva=%#x vsize=%#x raw=%#x rawsize=%#x\n",
			s.Name, s.VirtualAddress, s.VirtualSize, s.PointerToRawData, s.SizeOfRawData)
	}
	return nil
}

func showArchive(w io.Writer, a *objview.Archive) error {
	for i, m := range a.Members {
		obj, err := a.Object(i)
		kind := "?"
		if err == nil {
			kind = obj.Format.String()
		}
		fmt.Fprintf(w, "  member %-24s size=%-8d %s\n", m.Name, m.Size, kind)
	}
	return nil
}
