package binding

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"appbuilder/internal/domain"
)

// StableKey returns a content hash of desc. Two descriptors that are
// structurally equal produce the same key regardless of map iteration order
// or how they were constructed; encoding/json writes map keys sorted.
func StableKey(desc *domain.BindingDescriptor) string {
	if desc == nil {
		return ""
	}
	data, err := json.Marshal(desc)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
