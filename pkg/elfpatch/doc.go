// Package elfpatch relocates the program interpreter (PT_INTERP) of ELF
// executables and shared objects from one store prefix to another.
//
// The interpreter string lives in a fixed-size segment, so a rewrite is
// only possible while the new path plus its NUL terminator fits in the
// segment's file size. Anything longer is refused rather than truncated.
// Only staged copies are rewritten; the rewriter never follows a path
// outside its staging root.
package elfpatch
