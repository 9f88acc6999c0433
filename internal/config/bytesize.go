package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize is a size value that supports human-readable parsing.
//
// Examples:
//   - "5MB" = 5 * 1024 * 1024 bytes
//   - "1.5 GB" = 1.5 * 1024^3 bytes
//   - "500KB" = 500 * 1024 bytes
//   - "5242880" = 5242880 bytes (raw number still works)
//
// This type implements encoding.TextUnmarshaler for Viper/YAML support
// and json.Unmarshaler for JSON configuration files.
type ByteSize int64

// Binary (1024-based) unit multipliers.
const (
	byteUnit     = 1
	kilobyteUnit = 1024
	megabyteUnit = 1024 * kilobyteUnit
	gigabyteUnit = 1024 * megabyteUnit
	terabyteUnit = 1024 * gigabyteUnit
)

var byteSizeRe = regexp.MustCompile(`(?i)^\s*([\d.]+)\s*(b|k|kb|kib|m|mb|mib|g|gb|gib|t|tb|tib)?\s*$`)

var byteSizeUnits = map[string]int64{
	"":    byteUnit,
	"b":   byteUnit,
	"k":   kilobyteUnit,
	"kb":  kilobyteUnit,
	"kib": kilobyteUnit,
	"m":   megabyteUnit,
	"mb":  megabyteUnit,
	"mib": megabyteUnit,
	"g":   gigabyteUnit,
	"gb":  gigabyteUnit,
	"gib": gigabyteUnit,
	"t":   terabyteUnit,
	"tb":  terabyteUnit,
	"tib": terabyteUnit,
}

// ParseByteSize parses a human-readable byte size string.
func ParseByteSize(s string) (ByteSize, error) {
	m := byteSizeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}

	unit, ok := byteSizeUnits[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("invalid byte size unit %q", m[2])
	}

	return ByteSize(value * float64(unit)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper support.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Try as a number (bytes) for backwards compatibility
		var raw int64
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*b = ByteSize(raw)
		return nil
	}
	return b.UnmarshalText([]byte(s))
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// MarshalJSON implements json.Marshaler.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// Bytes returns the size in bytes as int64.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// String returns a human-readable string representation.
func (b ByteSize) String() string {
	v := int64(b)
	switch {
	case v >= terabyteUnit && v%terabyteUnit == 0:
		return fmt.Sprintf("%dTB", v/terabyteUnit)
	case v >= gigabyteUnit && v%gigabyteUnit == 0:
		return fmt.Sprintf("%dGB", v/gigabyteUnit)
	case v >= megabyteUnit && v%megabyteUnit == 0:
		return fmt.Sprintf("%dMB", v/megabyteUnit)
	case v >= kilobyteUnit && v%kilobyteUnit == 0:
		return fmt.Sprintf("%dKB", v/kilobyteUnit)
	default:
		return fmt.Sprintf("%dB", v)
	}
}
