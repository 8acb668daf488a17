package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// computeVAAKey computes a unique key for a VAA based on its bytes
func computeVAAKey(vaaBytes []byte) string {
	hash := sha256.Sum256(vaaBytes)
	return hex.EncodeToString(hash[:])
}

// normalizeEmitter removes a 0x prefix, lowercases and left-pads to 64 hex characters.
func normalizeEmitter(emitter string) string {
	if emitter == "" {
		return ""
	}
	addr := strings.ToLower(strings.TrimPrefix(emitter, "0x"))
	if len(addr) < 64 {
		addr = strings.Repeat("0", 64-len(addr)) + addr
	}
	return addr
}

// recentKeys remembers the last capacity keys in insertion order.
type recentKeys struct {
	capacity int
	order    []string
	set      map[string]struct{}
}

func newRecentKeys(capacity int) *recentKeys {
	return &recentKeys{capacity: capacity, set: make(map[string]struct{}, capacity)}
}

// add records key and reports whether it was new.
func (r *recentKeys) add(key string) bool {
	if _, ok := r.set[key]; ok {
		return false
	}
	if len(r.order) == r.capacity {
		delete(r.set, r.order[0])
		r.order = r.order[1:]
	}
	r.order = append(r.order, key)
	r.set[key] = struct{}{}
	return true
}
