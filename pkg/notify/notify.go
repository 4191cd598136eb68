// Package notify defines the outbound notification interface used to tell the
// wider platform that an interview finished.
//
// Delivery is at-least-once; consumers must deduplicate on the candidate
// interview ID carried in the payload.
package notify

import "context"

// Notifier sends interview completion notifications to an external queue.
//
// Implementations must be safe for concurrent use.
type Notifier interface {
	// NotifyCompletion enqueues a completion notification for the given
	// candidate interview and returns the broker-assigned message ID.
	// The payload is {"candidateInterviewId": "<id>"} with a message
	// attribute of the same name.
	NotifyCompletion(ctx context.Context, candidateInterviewID string) (messageID string, err error)
}
