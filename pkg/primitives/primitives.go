// Package primitives defines the small, comparable identifier types shared
// across the journal, recovery and cleanup subsystems.
package primitives

import "fmt"

// Timestamp is a monotonically increasing logical clock value. Start
// timestamps, commit timestamps, checkpoint markers and page dirty markers
// are all drawn from the same sequence.
type Timestamp uint64

// Before reports whether t happened strictly before other.
func (t Timestamp) Before(other Timestamp) bool { return t < other }

// Address is a global, monotonically addressable position in the journal's
// logical byte stream, spanning every segment generation written so far.
// A segment's generation is floor(Address / blockSize); the within-file
// offset is Address mod blockSize. Zero is the sentinel "no address" used
// by the earliest TX record of a chain (BackchainAddr == 0).
type Address uint64

// Zero reports whether this is the sentinel "no address" value.
func (a Address) Zero() bool { return a == 0 }

func (a Address) String() string { return fmt.Sprintf("%d", uint64(a)) }

// FileAddress identifies a precise journal record location for display:
// the segment generation it lives in, its byte offset within that
// segment, and the timestamp recorded in its header. It is derived from
// an Address plus a journal's block size and exists for error messages
// and diagnostics, not for I/O.
type FileAddress struct {
	Generation int64
	Offset     int64
	Timestamp  Timestamp
}

func (a FileAddress) String() string {
	return fmt.Sprintf("%d:%d@%d", a.Generation, a.Offset, a.Timestamp)
}

// ResolveFileAddress derives the display FileAddress for addr given the
// journal's configured segment size.
func ResolveFileAddress(addr Address, blockSize int64, ts Timestamp) FileAddress {
	if blockSize <= 0 {
		return FileAddress{Timestamp: ts}
	}
	gen := int64(addr) / blockSize
	off := int64(addr) % blockSize
	return FileAddress{Generation: gen, Offset: off, Timestamp: ts}
}

// VolumeHandle identifies a volume bound by an InstallVolume record.
type VolumeHandle uint32

// TreeHandle identifies a tree bound by an InstallTree record.
type TreeHandle uint32

// PageAddress identifies a page within a volume, for cleanup action
// ordering and page store delegation.
type PageAddress uint64

// HashCode is a deterministic, non-negative hash used for KeyState and map
// bucketing. It is always in [0, 0x7FFFFFFF].
type HashCode int32

// VolumeDescriptor binds a volume handle to its external name/id pair, as
// installed by an IV record.
type VolumeDescriptor struct {
	Handle VolumeHandle
	Name   string
	ID     int64
}

// TreeDescriptor binds a tree handle to the volume and name it names, as
// installed by an IT record.
type TreeDescriptor struct {
	Handle       TreeHandle
	VolumeHandle VolumeHandle
	TreeName     string
}

// DirectoryTreeName is the reserved tree name routing SR/DR/DT dispatch to
// a volume's directory exchange rather than a user tree.
const DirectoryTreeName = "_directory"
