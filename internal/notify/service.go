// Package notify builds and emits the per-recipient notifications for the
// two review event kinds. It owns the de-duplication, gating, and channel
// fan-out rules; the transports and trackers behind it are interfaces.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roasbeef/pulsebot/internal/pulse"
	"github.com/roasbeef/pulsebot/internal/reviewboard"
	"github.com/roasbeef/pulsebot/internal/statestore"
)

// ReviewLookup resolves review-request metadata.
type ReviewLookup interface {
	// RequestInfo returns the metadata for a review request id.
	RequestInfo(ctx context.Context, id int) (reviewboard.RequestInfo, error)
}

// ComponentLookup resolves a bug id to its "product :: component" key.
type ComponentLookup interface {
	// Component returns the routing component for a bug id.
	Component(ctx context.Context, bugID string) (string, error)
}

// Sender delivers one chat message, fire-and-forget.
type Sender interface {
	// SendMessage sends text to a channel or nick.
	SendMessage(target, text string) error
}

// Service implements the two notification handlers.
type Service struct {
	reviews    ReviewLookup
	components ComponentLookup
	records    *statestore.Records
	sender     Sender
	log        *slog.Logger
}

// NewService creates the notification service.
func NewService(reviews ReviewLookup, components ComponentLookup,
	records *statestore.Records, sender Sender,
	log *slog.Logger) *Service {

	if log == nil {
		log = slog.Default()
	}

	return &Service{
		reviews:    reviews,
		components: components,
		records:    records,
		sender:     sender,
		log:        log.With("component", "notify"),
	}
}

// reviewTarget is one reviewer's chosen request after de-duplication.
type reviewTarget struct {
	requestID int
	url       string
}

// HandleReviewRequested notifies every reviewer assigned to the event's
// commits. A reviewer spanning several commits gets exactly one notice,
// for the last commit in iteration order.
func (s *Service) HandleReviewRequested(ctx context.Context,
	ev pulse.Event) error {

	// Pass one: reviewer -> chosen request, last write wins. The order
	// slice keeps delivery deterministic in first-seen order.
	targets := make(map[string]reviewTarget)
	var order []string

	for _, commit := range ev.Commits {
		info, err := s.reviews.RequestInfo(ctx, commit.RequestID)
		if err != nil {
			// Transient tracker failure: skip this commit's
			// reviewers rather than abort the whole event.
			s.log.WarnContext(ctx, "skipping commit, lookup failed",
				"request_id", commit.RequestID, "err", err)
			continue
		}

		for _, reviewer := range info.Reviewers {
			if _, seen := targets[reviewer]; !seen {
				order = append(order, reviewer)
			}
			targets[reviewer] = reviewTarget{
				requestID: commit.RequestID,
				url: reviewboard.BuildRequestURL(
					ev.TrackerBaseURL, commit.RequestID,
				),
			}
		}
	}

	if len(order) == 0 {
		return nil
	}

	components := s.requestedComponents(ctx, ev)

	for _, reviewer := range order {
		target := targets[reviewer]

		// Cache hit: the id was resolved during pass one of this
		// same invocation.
		summary := ""
		if info, err := s.reviews.RequestInfo(
			ctx, target.requestID,
		); err == nil {
			summary = info.Summary
		}

		s.fanOut(ctx, reviewer, components,
			requestedText(target.url, summary))
	}

	return nil
}

// HandleReviewPublished notifies the submitter that a review of their
// request completed, with the current approval state.
func (s *Service) HandleReviewPublished(ctx context.Context,
	ev pulse.Event) error {

	id, err := ev.ReviewRequestID.UnwrapOrErr(
		fmt.Errorf("published event without review_request_id"),
	)
	if err != nil {
		return err
	}

	info, err := s.reviews.RequestInfo(ctx, id)
	if err != nil {
		return fmt.Errorf("resolve request %d: %w", id, err)
	}

	url := reviewboard.BuildRequestURL(ev.TrackerBaseURL, id)
	text := publishedText(
		url, info.Summary,
		statusLine(info.Approved, info.OpenIssueCount),
	)

	s.fanOut(ctx, ev.Submitter, s.publishedComponents(ctx, ev), text)

	return nil
}

// requestedComponents resolves the single component of a review-requested
// event, reached indirectly through the parent request's linked bug. A
// request event carries only one commit chain's parent, so the result is
// at most one component.
func (s *Service) requestedComponents(ctx context.Context,
	ev pulse.Event) []string {

	parentID, err := ev.ParentRequestID.UnwrapOrErr(
		fmt.Errorf("no parent request id"),
	)
	if err != nil {
		return nil
	}

	info, err := s.reviews.RequestInfo(ctx, parentID)
	if err != nil {
		s.log.WarnContext(ctx, "parent request lookup failed",
			"request_id", parentID, "err", err)
		return nil
	}

	bugID, err := info.LinkedBugID.UnwrapOrErr(
		fmt.Errorf("no linked bug"),
	)
	if err != nil {
		return nil
	}

	component, err := s.components.Component(ctx, bugID)
	if err != nil {
		s.log.WarnContext(ctx, "component lookup failed",
			"bug_id", bugID, "err", err)
		return nil
	}

	return []string{component}
}

// publishedComponents resolves the component set of a review-published
// event from its linked bug list, duplicates removed. A completed review
// may span several bugs.
func (s *Service) publishedComponents(ctx context.Context,
	ev pulse.Event) []string {

	seen := make(map[string]struct{})
	var components []string

	for _, bugID := range ev.BugIDs {
		component, err := s.components.Component(ctx, bugID)
		if err != nil {
			s.log.WarnContext(ctx, "component lookup failed",
				"bug_id", bugID, "err", err)
			continue
		}

		if _, dup := seen[component]; dup {
			continue
		}
		seen[component] = struct{}{}
		components = append(components, component)
	}

	return components
}

// fanOut applies the gating rule and emits the notice. An opted-in
// recipient gets a direct notice; every channel mapped from the components
// gets a copy. Component mappings deliberately override an individual
// opt-out for the channel copies: the channels watch the component, not
// the person.
func (s *Service) fanOut(ctx context.Context, recipient string,
	components []string, text string) {

	optedIn := s.records.IsRegistered(recipient)

	seen := make(map[string]struct{})
	var channels []string
	for _, component := range components {
		for _, ch := range s.records.ChannelsFor(component) {
			if _, dup := seen[ch]; dup {
				continue
			}
			seen[ch] = struct{}{}
			channels = append(channels, ch)
		}
	}

	if !optedIn && len(channels) == 0 {
		s.log.DebugContext(ctx, "notification suppressed",
			"recipient", recipient)
		return
	}

	if optedIn {
		s.send(ctx, recipient, text)
	}
	for _, ch := range channels {
		s.send(ctx, ch, channelCopy(recipient, text))
	}
}

// send emits one message. Sends are fire-and-forget; a transport error is
// logged and the rest of the fan-out proceeds.
func (s *Service) send(ctx context.Context, target, text string) {
	if err := s.sender.SendMessage(target, text); err != nil {
		s.log.WarnContext(ctx, "send failed",
			"target", target, "err", err)
		return
	}

	s.log.InfoContext(ctx, "notification sent", "target", target)
}
