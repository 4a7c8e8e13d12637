package record

import (
	"maps"
	"time"
)

// Reserved metadata keys.
const (
	MetaRecordType = "record_type"
	MetaRecordID   = "record_id"
	MetaData       = "data"
	MetaSource     = "source"
	MetaTimestamp  = "timestamp"
)

var reservedMetadataKeys = map[string]bool{
	MetaRecordType: true,
	MetaRecordID:   true,
	MetaData:       true,
	MetaTimestamp:  true,
}

// BuildMetadata merges caller metadata with the reserved record keys.
// Caller keys never override reserved ones.
func (r UpsertRequest) BuildMetadata(now time.Time) map[string]any {
	md := make(map[string]any, len(r.Metadata)+4)
	maps.Copy(md, r.Metadata)
	md[MetaRecordType] = r.RecordType
	md[MetaRecordID] = r.RecordID
	data := r.Data
	if data == nil {
		data = map[string]any{}
	}
	md[MetaData] = data
	md[MetaTimestamp] = now.UTC().Format(time.RFC3339)
	return md
}

// BuildMetadata copies chunk metadata and stamps the ingestion time.
func (c Chunk) BuildMetadata(now time.Time) map[string]any {
	md := make(map[string]any, len(c.Metadata)+1)
	maps.Copy(md, c.Metadata)
	if _, ok := md[MetaTimestamp]; !ok {
		md[MetaTimestamp] = now.UTC().Format(time.RFC3339)
	}
	return md
}
