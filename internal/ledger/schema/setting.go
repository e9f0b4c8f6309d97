package schema

import (
	"fmt"
	"strconv"
)

// Reserved setting keys.
const (
	// SettingLastOpenBookID holds a local book id. It is mirrored to the
	// cloud as the book's server id.
	SettingLastOpenBookID = "last_open_book_id"

	// SettingLastSyncAt holds the RFC 3339 time of the last successful
	// pull. It is the incremental-pull watermark and is never pushed.
	SettingLastSyncAt = "last_sync_at"
)

// Setting is a device-scoped key/value pair.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Validate checks if the Setting has valid field values.
func (s *Setting) Validate() error {
	if s.Key == "" {
		return fmt.Errorf("key is required")
	}
	return nil
}

// IsLocalOnly reports whether key must never leave the device.
func IsLocalOnly(key string) bool {
	return key == SettingLastSyncAt
}

// ParseBookID parses a last_open_book_id value into a local book id.
func ParseBookID(value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid book id %q: %w", value, err)
	}
	return id, nil
}
