package notify

import "fmt"

// requestedText is the body of a new-review-request notice. The summary is
// appended when the tracker knows one, so the recipient has context beyond
// a bare URL.
func requestedText(url, summary string) string {
	if summary == "" {
		return fmt.Sprintf("New review request: %s", url)
	}

	return fmt.Sprintf("New review request: %s (%s)", url, summary)
}

// publishedText is the body of a completed-review notice, carrying an
// actionable status line.
func publishedText(url, summary, status string) string {
	if summary == "" {
		return fmt.Sprintf("New review: %s: %s", url, status)
	}

	return fmt.Sprintf("New review: %s (%s): %s", url, summary, status)
}

// statusLine renders the request's review state as a short actionable
// phrase.
func statusLine(approved bool, openIssues int) string {
	if approved {
		return "r+ was granted"
	}

	return fmt.Sprintf("%d issues left", openIssues)
}

// channelCopy prefixes a notice with the recipient's nick for channel
// delivery, so the mention pings them there.
func channelCopy(recipient, text string) string {
	return fmt.Sprintf("%s: %s", recipient, text)
}
