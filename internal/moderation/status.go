// Package moderation answers point-in-time mute/ban queries and applies new
// restrictions. Restrictions live in the users table; this package owns the
// expiry semantics (a timestamp in the past is never reported as active) and
// an optional short-lived Redis cache of status snapshots.
package moderation

import "time"

// Status is a read-only snapshot of a user's restrictions. Whether a
// restriction is active is always computed against a caller-supplied clock,
// never baked in at write time, so rows that were never cleared expire on
// their own.
type Status struct {
	MutedUntil   *time.Time `json:"muted_until,omitempty"`
	BannedUntil  *time.Time `json:"banned_until,omitempty"`
	BanPermanent bool       `json:"ban_permanent,omitempty"`
	BanReason    string     `json:"ban_reason,omitempty"`
}

// MutedAt reports whether the user is muted at the given instant.
func (s Status) MutedAt(now time.Time) bool {
	return s.MutedUntil != nil && s.MutedUntil.After(now)
}

// BannedAt reports whether the user is banned at the given instant.
// Permanent bans have no expiry to compare.
func (s Status) BannedAt(now time.Time) bool {
	if s.BanPermanent {
		return true
	}
	return s.BannedUntil != nil && s.BannedUntil.After(now)
}

// Sanction is the length of a restriction: a bounded duration or an
// explicit permanent marker. Encoding "permanent" as a huge minute count
// breaks down at expiry comparisons; the marker keeps the intent
// unambiguous.
type Sanction struct {
	Duration  time.Duration
	Permanent bool
}

// Minutes returns a bounded sanction of n minutes.
func Minutes(n int) Sanction {
	return Sanction{Duration: time.Duration(n) * time.Minute}
}

// Permanent is a sanction with no expiry.
var Permanent = Sanction{Permanent: true}

// Until resolves the sanction's expiry from the given start time. Permanent
// sanctions have none.
func (s Sanction) Until(from time.Time) *time.Time {
	if s.Permanent {
		return nil
	}
	t := from.Add(s.Duration)
	return &t
}

// Valid reports whether the sanction is usable: permanent, or a positive
// duration.
func (s Sanction) Valid() bool {
	return s.Permanent || s.Duration > 0
}
