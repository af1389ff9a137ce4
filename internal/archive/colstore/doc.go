// Package colstore implements the on-disk column format for the archive.
//
// Each channel is stored as a pair of append-only files: a data file of
// packed fixed-width values and a quality file of one flag byte per row.
// Statistics live in separate fixed-width row files, one per resolution.
// All files are self-describing: a header carries magic, version, dtype
// and item size, so the directory tree is its own channel registry.
//
// Fixed-width packing is what makes catalog row ranges directly seekable:
// byte offset = header + row * itemSize, with no index structure to
// maintain or rebuild.
package colstore
