package aggregator

// deduplicator suppresses radio-level re-broadcasts by comparing each
// reading's measurement sequence against the last accepted value per device.
// Comparison is equality-only: sequence counters wrap at their format's bit
// width, so ordering is never assumed and a wraparound reads as a new sample.
// Duplicate detection is best-effort; readings without a sequence are always
// accepted.
//
// Not safe for concurrent use; the Aggregator serializes access.
type deduplicator struct {
	lastSeq    map[string]uint32
	processed  uint64
	duplicates uint64
}

func newDeduplicator() *deduplicator {
	return &deduplicator{
		lastSeq: make(map[string]uint32),
	}
}

// Accept reports whether the reading is a genuine new sample for the device.
// Accepting stores the sequence as the device's last-accepted value.
func (d *deduplicator) Accept(address string, seq *uint32) bool {
	d.processed++

	if seq == nil {
		return true
	}

	if last, ok := d.lastSeq[address]; ok && last == *seq {
		d.duplicates++
		return false
	}

	d.lastSeq[address] = *seq

	return true
}
