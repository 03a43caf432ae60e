// Package pulse implements the review-event pipeline: the broker
// abstraction and its AMQP implementation, the wire decoder, the
// readiness-gated consumer loop, and the permit-bounded dispatcher.
package pulse

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Routing keys emitted by the review event bus.
const (
	// routingKeyCommitsPublished announces a new set of commits awaiting
	// review.
	routingKeyCommitsPublished = "mozreview.commits.published"

	// routingKeyReviewPublished announces a completed review.
	routingKeyReviewPublished = "mozreview.review.published"
)

// ErrUnknownRoutingKey is returned when an event carries a routing key the
// decoder has no variant for.
var ErrUnknownRoutingKey = errors.New("pulse: unknown routing key")

// EventKind identifies the variant of a decoded Event. The set is closed:
// routing keys are mapped to a kind exactly once, at the decode boundary.
type EventKind uint8

const (
	// KindReviewRequested is a "commits published" event: one or more
	// commits now need review.
	KindReviewRequested EventKind = iota + 1

	// KindReviewPublished is a "review published" event: a review of the
	// submitter's request has completed.
	KindReviewPublished
)

// String returns a human readable name for the kind.
func (k EventKind) String() string {
	switch k {
	case KindReviewRequested:
		return "review-requested"
	case KindReviewPublished:
		return "review-published"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Commit references one review request within a review-requested event.
type Commit struct {
	// RequestID is the review request id covering this commit.
	RequestID int
}

// Event is one decoded message from the review event bus. It is immutable
// once decoded and maps to exactly one broker acknowledgment.
type Event struct {
	// Kind selects the handler for this event.
	Kind EventKind

	// Submitter is the nick of the review request's author.
	Submitter string

	// TrackerBaseURL is the review tracker base URL used to build
	// user-facing request links.
	TrackerBaseURL string

	// BugIDs lists the bugs linked to the reviewed request. Only
	// review-published events carry them.
	BugIDs []string

	// Commits lists the per-commit request ids of a review-requested
	// event.
	Commits []Commit

	// ReviewRequestID is the reviewed request's id on review-published
	// events.
	ReviewRequestID fn.Option[int]

	// ParentRequestID is the parent (squashed) request id on
	// review-requested events.
	ParentRequestID fn.Option[int]
}

// wireEnvelope mirrors the bus wire format.
type wireEnvelope struct {
	Meta struct {
		RoutingKey string `json:"routing_key"`
	} `json:"_meta"`
	Payload wirePayload `json:"payload"`
}

// wirePayload mirrors the event payload.
type wirePayload struct {
	ReviewBoardURL        string   `json:"review_board_url"`
	Submitter             string   `json:"review_request_submitter"`
	Bugs                  []string `json:"review_request_bugs"`
	ParentReviewRequestID *int     `json:"parent_review_request_id"`
	ReviewRequestID       *int     `json:"review_request_id"`
	Commits               []struct {
		ReviewRequestID int `json:"review_request_id"`
	} `json:"commits"`
}

// DecodeEvent decodes a raw bus message into an Event. A malformed body or
// an unknown routing key is a per-event error; the caller isolates it so
// one poison message never stalls the loop.
func DecodeEvent(body []byte) (Event, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(body, &wire); err != nil {
		return Event{}, fmt.Errorf("pulse: decode event: %w", err)
	}

	ev := Event{
		Submitter:       wire.Payload.Submitter,
		TrackerBaseURL:  wire.Payload.ReviewBoardURL,
		BugIDs:          wire.Payload.Bugs,
		ReviewRequestID: optionFromPtr(wire.Payload.ReviewRequestID),
		ParentRequestID: optionFromPtr(wire.Payload.ParentReviewRequestID),
	}
	for _, c := range wire.Payload.Commits {
		ev.Commits = append(ev.Commits, Commit{
			RequestID: c.ReviewRequestID,
		})
	}

	switch wire.Meta.RoutingKey {
	case routingKeyCommitsPublished:
		ev.Kind = KindReviewRequested
	case routingKeyReviewPublished:
		ev.Kind = KindReviewPublished
	default:
		return Event{}, fmt.Errorf(
			"%w: %q", ErrUnknownRoutingKey, wire.Meta.RoutingKey,
		)
	}

	return ev, nil
}

// optionFromPtr converts an optional wire field into an fn.Option.
func optionFromPtr[T any](p *T) fn.Option[T] {
	if p == nil {
		return fn.None[T]()
	}

	return fn.Some(*p)
}
