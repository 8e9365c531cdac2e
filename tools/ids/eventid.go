package ids

import "time"

const (
	// FarcasterEpoch is 2021-01-01T00:00:00Z in milliseconds.
	FarcasterEpoch int64 = 1609459200000

	SeqBits = 12
	seqMask = (1 << SeqBits) - 1
)

// ExtractEventTimestamp returns the creation time embedded in a hub event id.
func ExtractEventTimestamp(id uint64) time.Time {
	return time.UnixMilli(int64(id>>SeqBits) + FarcasterEpoch)
}

// FromHubTime converts a message timestamp (seconds since the Farcaster epoch).
func FromHubTime(ts uint32) time.Time {
	return time.UnixMilli(FarcasterEpoch + int64(ts)*1000)
}

// ToHubTime is the inverse of FromHubTime, truncated to seconds.
func ToHubTime(t time.Time) uint32 {
	s := (t.UnixMilli() - FarcasterEpoch) / 1000
	if s < 0 {
		return 0
	}
	return uint32(s)
}
