package helper

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ChunkID returns the stable point id for chunk index of sourceID.
// It is a name-based (SHA-1, version 5) UUID in the URL namespace over "{sourceID}:{index}",
// so re-ingesting the same source with the same chunking overwrites instead of duplicating.
func ChunkID(sourceID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s:%d", sourceID, index))).String()
}

// ChunkIDs returns the ids of the first n chunks of sourceID.
func ChunkIDs(sourceID string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = ChunkID(sourceID, i)
	}
	return ids
}

// pretty print
func PrettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("Error pretty printing")
		return
	}
	fmt.Println(string(b))
}

// CreateFolder creates path and its parents if missing.
func CreateFolder(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", path, err)
	}
	return nil
}
