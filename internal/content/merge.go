package content

// preserveMetadata carries chunk ids from the pass-start snapshot onto an incoming record.
// Explicit incoming chunk ids win; records never seen before start with an empty list.
func preserveMetadata(record Record, snapshot map[string]MetadataSnapshot) Record {
	if record.chunkIDsSupplied {
		return record
	}
	prior, seen := snapshot[record.RecordID]
	if seen && prior.ChunkIDs != nil {
		record.SetChunkIDs(prior.ChunkIDs)
		return record
	}
	record.SetChunkIDs([]string{})
	return record
}
