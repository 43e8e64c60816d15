package kv

import "time"

// MinuteKey renders an epoch second as YYYYMMDDHHmm in the exchange session
// zone. Lexicographic order of these keys is chronological order, which the
// candle script relies on.
func MinuteKey(epochSec int64, sessionOffset time.Duration) string {
	return time.Unix(epochSec, 0).UTC().Add(sessionOffset).Format("200601021504")
}

// DayKey renders an epoch second as the YYYYMMDD trading day in the session
// zone.
func DayKey(epochSec int64, sessionOffset time.Duration) string {
	return time.Unix(epochSec, 0).UTC().Add(sessionOffset).Format("20060102")
}
