// Package elftest builds minimal ELF64 images for tests.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

const (
	headerSize = 64
	progSize   = 56
)

// Options describes the image to build
type Options struct {
	Interp   string      // PT_INTERP contents; empty omits the segment
	Capacity int         // PT_INTERP file size; 0 means len(Interp)+1
	Type     elf.Type    // defaults to ET_DYN
	Machine  elf.Machine // defaults to EM_X86_64
	Trailer  []byte      // bytes appended after the interpreter field
}

// InterpOffset is where the interpreter field starts in built images
const InterpOffset = headerSize + progSize

// Build returns a little-endian ELF64 image with at most one program
// header and no sections
func Build(o Options) []byte {
	if o.Type == elf.ET_NONE {
		o.Type = elf.ET_DYN
	}
	if o.Machine == elf.EM_NONE {
		o.Machine = elf.EM_X86_64
	}
	capacity := o.Capacity
	if capacity == 0 {
		capacity = len(o.Interp) + 1
	}

	hdr := elf.Header64{
		Type:      uint16(o.Type),
		Machine:   uint16(o.Machine),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     headerSize,
		Ehsize:    headerSize,
		Phentsize: progSize,
		Shentsize: 64,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	var progs []elf.Prog64
	if o.Interp != "" {
		progs = append(progs, elf.Prog64{
			Type:   uint32(elf.PT_INTERP),
			Flags:  uint32(elf.PF_R),
			Off:    InterpOffset,
			Vaddr:  InterpOffset,
			Paddr:  InterpOffset,
			Filesz: uint64(capacity),
			Memsz:  uint64(capacity),
			Align:  1,
		})
	}
	hdr.Phnum = uint16(len(progs))

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, &hdr)
	if len(progs) == 0 {
		// keep the interpreter offset stable for callers
		buf.Write(make([]byte, progSize))
	}
	for i := range progs {
		_ = binary.Write(&buf, binary.LittleEndian, &progs[i])
	}
	if o.Interp != "" {
		field := make([]byte, capacity)
		copy(field, o.Interp)
		buf.Write(field)
	}
	buf.Write(o.Trailer)
	return buf.Bytes()
}
