package blockstore

// Location is the transient (offset, total_length) pair the in-memory
// index maps a block ID to. It is never itself persisted; it is rebuilt
// from a file scan on open (spec §3, §6).
type Location struct {
	Offset      int64
	TotalLength int64
}

// End returns the offset one past the last byte of the record at this
// location.
func (l Location) End() int64 {
	return l.Offset + l.TotalLength
}
