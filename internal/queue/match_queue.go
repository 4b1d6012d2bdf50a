// Package queue defines the matchmaking queue contract. The queue is the
// shared set of users currently available for matching; the gateway is its
// only writer.
package queue

import "context"

// MatchQueue is the registry of users ready to be matched. Join and Leave
// are idempotent: joining twice or leaving a non-member is a no-op, not an
// error.
type MatchQueue interface {
	// Join marks the user as available for matching.
	Join(ctx context.Context, userID string) error
	// Leave withdraws the user. Callers invoke it on explicit leave and on
	// disconnect; both paths must tolerate the user already being gone.
	Leave(ctx context.Context, userID string) error
	// Contains reports whether the user is currently in the queue.
	Contains(ctx context.Context, userID string) (bool, error)
	// Size returns the number of queued users.
	Size(ctx context.Context) (int64, error)
}
