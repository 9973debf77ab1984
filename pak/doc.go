// Package pak implements the resolver that sits above the archive package:
// a PakManager owns an ordered list of mounted archives plus a mod path
// list, resolves logical paths against them and the loose filesystem under
// a configurable priority policy, and hands back either a platform file
// handle or a PseudoFile streaming a decompressed archive entry.
package pak
