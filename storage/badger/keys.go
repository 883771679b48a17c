package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/poiesic/policyrag/core"
)

// Key prefixes for different data types
const (
	documentPrefix         = "poldoc"
	documentFilenamePrefix = "poldocfn"
	documentIDSeq          = "poldocseq"
	checkpointSuffix       = "chkpt"
)

// makeDocumentKey generates a key for a policy document by ID.
// Format: prefix:id, with the ID in BigEndian so iteration follows insertion order.
func makeDocumentKey(id core.ID) []byte {
	prefix := documentPrefix + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// documentScanPrefix is the iteration prefix covering every document key.
func documentScanPrefix() []byte {
	return []byte(documentPrefix + ":")
}

// makeFilenameKey generates the unique-constraint key for a source filename.
// Format: prefix:filename
func makeFilenameKey(filename string) []byte {
	prefix := documentFilenamePrefix + ":"
	buf := make([]byte, len(prefix)+len(filename))
	offset := copy(buf, prefix)
	copy(buf[offset:], filename)
	return buf
}

// makeCheckpointKey generates a key for job checkpoints.
func makeCheckpointKey(job string) []byte {
	return []byte(fmt.Sprintf("%s:%s", job, checkpointSuffix))
}
