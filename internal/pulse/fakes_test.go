package pulse

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// fakeDelivery is an in-memory Delivery counting its acknowledgments.
type fakeDelivery struct {
	body []byte
	acks atomic.Int64
}

func newFakeDelivery(body string) *fakeDelivery {
	return &fakeDelivery{body: []byte(body)}
}

func (f *fakeDelivery) Body() []byte {
	return f.body
}

func (f *fakeDelivery) Ack() error {
	f.acks.Add(1)
	return nil
}

// fakeBroker is an in-memory Broker fed from a buffered channel.
type fakeBroker struct {
	deliveries chan Delivery
	closed     chan struct{}
}

func newFakeBroker(buffer int) *fakeBroker {
	return &fakeBroker{
		deliveries: make(chan Delivery, buffer),
		closed:     make(chan struct{}),
	}
}

func (b *fakeBroker) push(d Delivery) {
	b.deliveries <- d
}

func (b *fakeBroker) Receive(ctx context.Context,
	timeout time.Duration) (Delivery, error) {

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-b.deliveries:
		return d, nil
	case <-b.closed:
		return nil, ErrBrokerClosed
	case <-timer.C:
		return nil, ErrNoMessage
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *fakeBroker) Close() error {
	close(b.closed)
	return nil
}

// requestedEventBody builds a valid review-requested wire body for the
// given commit request ids.
func requestedEventBody(ids ...int) string {
	commits := ""
	for i, id := range ids {
		if i > 0 {
			commits += ","
		}
		commits += fmt.Sprintf(`{"review_request_id": %d}`, id)
	}

	return fmt.Sprintf(`{
		"_meta": {"routing_key": "mozreview.commits.published"},
		"payload": {
			"review_board_url": "https://rb.example.org/",
			"review_request_submitter": "dev",
			"parent_review_request_id": 100,
			"commits": [%s]
		}
	}`, commits)
}

// publishedEventBody builds a valid review-published wire body.
func publishedEventBody(id int, bugs ...string) string {
	bugList := ""
	for i, b := range bugs {
		if i > 0 {
			bugList += ","
		}
		bugList += fmt.Sprintf("%q", b)
	}

	return fmt.Sprintf(`{
		"_meta": {"routing_key": "mozreview.review.published"},
		"payload": {
			"review_board_url": "https://rb.example.org/",
			"review_request_submitter": "dev",
			"review_request_id": %d,
			"review_request_bugs": [%s]
		}
	}`, id, bugList)
}
