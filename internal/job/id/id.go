// Package id provides unique identifier generation for request records.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// DefaultPrefix is used when Generate is called with an empty prefix.
const DefaultPrefix = "req"

// Generate creates a new unique ID.
// Format: <prefix>-<timestamp>-<random>
// Example: req-1701432000-a1b2c3d4e5f6
func Generate(prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	timestamp := time.Now().Unix()
	random := make([]byte, 6)
	if _, err := rand.Read(random); err != nil {
		return fmt.Sprintf("%s-%d-%d", prefix, timestamp, time.Now().UnixNano()%1e9)
	}
	return fmt.Sprintf("%s-%d-%s", prefix, timestamp, hex.EncodeToString(random))
}
