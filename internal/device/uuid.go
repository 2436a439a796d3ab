package device

import "strings"

// bluetoothBaseSuffix is the Bluetooth SIG base UUID tail shared by all 16-bit UUIDs
const bluetoothBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// Strips a 0x prefix if present (e.g., "0x181A" -> "181a").
// Full 128-bit UUIDs in Bluetooth SIG base format (0000xxxx-0000-1000-8000-00805f9b34fb)
// are reduced to their 16-bit short form (xxxx).
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, bluetoothBaseSuffix) {
		return u[4:8]
	}
	return u
}

// EqualUUID reports whether two UUID strings name the same attribute.
func EqualUUID(a, b string) bool {
	return NormalizeUUID(a) == NormalizeUUID(b)
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}
