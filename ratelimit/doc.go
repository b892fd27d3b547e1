// Package ratelimit bounds the call rate of an operation per logical key.
//
// # Algorithms
//
// FixedWindow is the default. Time is cut into consecutive windows of
// policy.Window per key; the window starts at the first request and restarts
// at the first request seen after it has elapsed. Every attempt increments the
// counter, rejected ones included, and the attempt that makes the count exceed
// the limit is rejected. Around a boundary a caller can get up to twice the
// limit through: the tail of one window plus the head of the next.
//
// TokenBucket trades that burst for a steady refill of Limit tokens per Window
// (golang.org/x/time/rate). Both implement Limiter, so swapping one for the
// other does not change the interceptor.
//
// # Scope
//
// State is per process. Two instances behind a load balancer each enforce the
// full limit independently.
//
// # Key growth
//
// Windows are created lazily and kept until swept. Callers that never return
// leave their window behind; run StartJanitor with an idle threshold when the
// key space is unbounded (per-caller policies on a public endpoint).
package ratelimit
