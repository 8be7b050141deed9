// Package license implements the client side of the ClosetHopper
// license lifecycle: activating a key against this device's
// fingerprint, caching the result locally, revalidating it on a
// schedule, and answering the one question feature code asks: "is
// this installation currently licensed?".
//
// The cached state machine, per device:
//
//	[NoLicense] --activate ok--------------------> [Licensed, next check in 14d]
//	[Licensed]  --due & validate ok--------------> [Licensed, window advanced]
//	[Licensed]  --due & validate unreachable-----> [Licensed, unchanged]  (grace)
//	[Licensed]  --due & validate rejected--------> [NoLicense]            (lockout)
//	[Licensed]  --not yet due--------------------> [Licensed]             (no network)
//
// Transient failures never revoke capability: only an authoritative
// negative answer from the license service clears the cache. The
// Gate reads cache presence synchronously and never blocks on the
// network; the Scheduler owns the periodic revalidation.
package license
