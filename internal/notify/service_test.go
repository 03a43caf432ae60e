package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"github.com/roasbeef/pulsebot/internal/pulse"
	"github.com/roasbeef/pulsebot/internal/reviewboard"
	"github.com/roasbeef/pulsebot/internal/statestore"
)

// fakeReviews serves canned request metadata and counts lookups per id.
type fakeReviews struct {
	mu    sync.Mutex
	infos map[int]reviewboard.RequestInfo
	calls map[int]int
}

func newFakeReviews() *fakeReviews {
	return &fakeReviews{
		infos: make(map[int]reviewboard.RequestInfo),
		calls: make(map[int]int),
	}
}

func (f *fakeReviews) RequestInfo(ctx context.Context,
	id int) (reviewboard.RequestInfo, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[id]++
	info, ok := f.infos[id]
	if !ok {
		return reviewboard.RequestInfo{}, fmt.Errorf(
			"request %d not found", id,
		)
	}

	return info, nil
}

// fakeComponents maps bug ids to components.
type fakeComponents struct {
	byBug map[string]string
}

func (f *fakeComponents) Component(ctx context.Context,
	bugID string) (string, error) {

	component, ok := f.byBug[bugID]
	if !ok {
		return "", errors.New("bug not found")
	}

	return component, nil
}

// fakeSender records every (target, text) pair.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

type sentMessage struct {
	target string
	text   string
}

func (f *fakeSender) SendMessage(target, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, sentMessage{target: target, text: text})
	return nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

// testHarness bundles the service with its fakes.
type testHarness struct {
	svc        *Service
	reviews    *fakeReviews
	components *fakeComponents
	sender     *fakeSender
	records    *statestore.Records
	store      *statestore.Store
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	store, err := statestore.Open(t.TempDir())
	require.NoError(t, err)

	records, err := statestore.NewRecords(store, nil)
	require.NoError(t, err)

	reviews := newFakeReviews()
	components := &fakeComponents{byBug: make(map[string]string)}
	sender := &fakeSender{}

	return &testHarness{
		svc: NewService(
			reviews, components, records, sender, nil,
		),
		reviews:    reviews,
		components: components,
		sender:     sender,
		records:    records,
		store:      store,
	}
}

func (h *testHarness) register(t *testing.T, nicks ...string) {
	t.Helper()

	for _, nick := range nicks {
		_, err := h.records.Register(nick)
		require.NoError(t, err)
	}
}

func requestInfo(id int, summary string,
	reviewers ...string) reviewboard.RequestInfo {

	return reviewboard.RequestInfo{
		ID:        id,
		Summary:   summary,
		Reviewers: reviewers,
	}
}

// TestReviewRequestedLastWriteWins replays the canonical de-duplication
// scenario: commits [1, 2], request 1 reviewed by A, request 2 by A and B.
// A gets exactly one notice referencing request 2; so does B.
func TestReviewRequestedLastWriteWins(t *testing.T) {
	h := newHarness(t)
	h.register(t, "A", "B")

	h.reviews.infos[1] = requestInfo(1, "part one", "A")
	h.reviews.infos[2] = requestInfo(2, "part two", "A", "B")

	ev := pulse.Event{
		Kind:           pulse.KindReviewRequested,
		Submitter:      "dev",
		TrackerBaseURL: "https://rb.example.org/",
		Commits:        []pulse.Commit{{RequestID: 1}, {RequestID: 2}},
	}

	require.NoError(t, h.svc.HandleReviewRequested(context.Background(), ev))

	msgs := h.sender.messages()
	require.Len(t, msgs, 2)

	require.Equal(t, "A", msgs[0].target)
	require.Contains(t, msgs[0].text, "https://rb.example.org/r/2")
	require.NotContains(t, msgs[0].text, "r/1")

	require.Equal(t, "B", msgs[1].target)
	require.Contains(t, msgs[1].text, "https://rb.example.org/r/2")
}

// TestReviewRequestedSkipsFailedLookup verifies a failing commit lookup
// skips its reviewers without aborting the rest of the event.
func TestReviewRequestedSkipsFailedLookup(t *testing.T) {
	h := newHarness(t)
	h.register(t, "A", "B")

	// Request 1 is unknown to the tracker; request 2 resolves.
	h.reviews.infos[2] = requestInfo(2, "works", "B")

	ev := pulse.Event{
		Kind:           pulse.KindReviewRequested,
		TrackerBaseURL: "https://rb.example.org/",
		Commits:        []pulse.Commit{{RequestID: 1}, {RequestID: 2}},
	}

	require.NoError(t, h.svc.HandleReviewRequested(context.Background(), ev))

	msgs := h.sender.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "B", msgs[0].target)
}

// TestReviewRequestedComponentFanOut verifies the channel copies flow from
// the parent request's linked bug, and that an opted-out reviewer still
// triggers the channel copy.
func TestReviewRequestedComponentFanOut(t *testing.T) {
	h := newHarness(t)

	// "A" is NOT registered. The component mapping still routes a copy
	// to the watching channel.
	parent := requestInfo(100, "parent summary")
	parent.LinkedBugID = fn.Some("777")
	h.reviews.infos[100] = parent
	h.reviews.infos[1] = requestInfo(1, "child", "A")

	h.components.byBug["777"] = "Firefox :: General"
	require.NoError(t, h.store.Put(
		statestore.KeyComponentChannels,
		map[string][]string{"Firefox :: General": {"#fx-reviews"}},
	))
	require.NoError(t, h.records.ReloadComponentMap())

	ev := pulse.Event{
		Kind:            pulse.KindReviewRequested,
		TrackerBaseURL:  "https://rb.example.org/",
		Commits:         []pulse.Commit{{RequestID: 1}},
		ParentRequestID: fn.Some(100),
	}

	require.NoError(t, h.svc.HandleReviewRequested(context.Background(), ev))

	msgs := h.sender.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "#fx-reviews", msgs[0].target)
	require.Contains(t, msgs[0].text, "A: ")
	require.Contains(t, msgs[0].text, "r/1")
}

// TestReviewRequestedSuppressedWhenUngated verifies no messages flow when
// the reviewer opted out and no component is mapped.
func TestReviewRequestedSuppressedWhenUngated(t *testing.T) {
	h := newHarness(t)

	h.reviews.infos[1] = requestInfo(1, "s", "A")

	ev := pulse.Event{
		Kind:           pulse.KindReviewRequested,
		TrackerBaseURL: "https://rb.example.org/",
		Commits:        []pulse.Commit{{RequestID: 1}},
	}

	require.NoError(t, h.svc.HandleReviewRequested(context.Background(), ev))
	require.Empty(t, h.sender.messages())
}

// TestReviewPublishedApproved verifies the submitter notice carries the
// "r+ was granted" status line.
func TestReviewPublishedApproved(t *testing.T) {
	h := newHarness(t)
	h.register(t, "dev")

	info := requestInfo(42, "the patch")
	info.Approved = true
	h.reviews.infos[42] = info

	ev := pulse.Event{
		Kind:            pulse.KindReviewPublished,
		Submitter:       "dev",
		TrackerBaseURL:  "https://rb.example.org/",
		ReviewRequestID: fn.Some(42),
	}

	require.NoError(t, h.svc.HandleReviewPublished(context.Background(), ev))

	msgs := h.sender.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "dev", msgs[0].target)
	require.Contains(t, msgs[0].text, "r+ was granted")
	require.Contains(t, msgs[0].text, "the patch")
	require.Contains(t, msgs[0].text, "r/42")
}

// TestReviewPublishedOpenIssues verifies the issue-count status line.
func TestReviewPublishedOpenIssues(t *testing.T) {
	h := newHarness(t)
	h.register(t, "dev")

	info := requestInfo(42, "the patch")
	info.OpenIssueCount = 5
	h.reviews.infos[42] = info

	ev := pulse.Event{
		Kind:            pulse.KindReviewPublished,
		Submitter:       "dev",
		TrackerBaseURL:  "https://rb.example.org/",
		ReviewRequestID: fn.Some(42),
	}

	require.NoError(t, h.svc.HandleReviewPublished(context.Background(), ev))

	msgs := h.sender.messages()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].text, "5 issues left")
}

// TestReviewPublishedMultiBugComponents verifies the component set spans
// all linked bugs with duplicates removed, and channels are deduplicated
// across components.
func TestReviewPublishedMultiBugComponents(t *testing.T) {
	h := newHarness(t)

	h.reviews.infos[42] = requestInfo(42, "patch")

	h.components.byBug["1"] = "Firefox :: General"
	h.components.byBug["2"] = "Core :: DOM"
	h.components.byBug["3"] = "Core :: DOM"

	require.NoError(t, h.store.Put(
		statestore.KeyComponentChannels,
		map[string][]string{
			"Firefox :: General": {"#reviews"},
			"Core :: DOM":        {"#reviews", "#dom"},
		},
	))
	require.NoError(t, h.records.ReloadComponentMap())

	ev := pulse.Event{
		Kind:            pulse.KindReviewPublished,
		Submitter:       "dev", // not opted in
		TrackerBaseURL:  "https://rb.example.org/",
		BugIDs:          []string{"1", "2", "3"},
		ReviewRequestID: fn.Some(42),
	}

	require.NoError(t, h.svc.HandleReviewPublished(context.Background(), ev))

	msgs := h.sender.messages()
	require.Len(t, msgs, 2)

	targets := []string{msgs[0].target, msgs[1].target}
	require.ElementsMatch(t, []string{"#reviews", "#dom"}, targets)

	// Channel copies carry the submitter mention even though they opted
	// out of direct notices.
	require.Contains(t, msgs[0].text, "dev: ")
}

// TestReviewPublishedOptInGate replays the register/deregister testable
// property: an opted-in submitter with an unmapped component is notified;
// after deregistering, nothing is sent.
func TestReviewPublishedOptInGate(t *testing.T) {
	h := newHarness(t)

	h.reviews.infos[42] = requestInfo(42, "patch")

	ev := pulse.Event{
		Kind:            pulse.KindReviewPublished,
		Submitter:       "nick",
		TrackerBaseURL:  "https://rb.example.org/",
		ReviewRequestID: fn.Some(42),
	}

	h.register(t, "nick")
	require.NoError(t, h.svc.HandleReviewPublished(context.Background(), ev))
	require.Len(t, h.sender.messages(), 1)

	_, err := h.records.Deregister("nick")
	require.NoError(t, err)

	require.NoError(t, h.svc.HandleReviewPublished(context.Background(), ev))
	require.Len(t, h.sender.messages(), 1)
}

// TestReviewPublishedMissingID verifies a published event without a
// request id is a handler error, not a panic.
func TestReviewPublishedMissingID(t *testing.T) {
	h := newHarness(t)

	ev := pulse.Event{
		Kind:      pulse.KindReviewPublished,
		Submitter: "dev",
	}

	require.Error(t, h.svc.HandleReviewPublished(context.Background(), ev))
	require.Empty(t, h.sender.messages())
}

// TestMessageFormats pins the notice texts.
func TestMessageFormats(t *testing.T) {
	require.Equal(t,
		"New review request: https://x/r/1 (Fix it)",
		requestedText("https://x/r/1", "Fix it"),
	)
	require.Equal(t,
		"New review request: https://x/r/1",
		requestedText("https://x/r/1", ""),
	)
	require.Equal(t,
		"New review: https://x/r/2 (Fix it): r+ was granted",
		publishedText("https://x/r/2", "Fix it", "r+ was granted"),
	)
	require.Equal(t, "r+ was granted", statusLine(true, 3))
	require.Equal(t, "3 issues left", statusLine(false, 3))
	require.Equal(t, "alice: hello", channelCopy("alice", "hello"))
}
