package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/xkilldash9x/gatewatch/internal/config"
)

// Locator addresses elements on a page. Matches are the elements of the
// parent (or the document) matching CSS whose text contains HasText; Nth
// picks one of them. Frame selects the document: 0 is the top document and
// i is the (i-1)th iframe. Frame is only honoured on the root of a chain.
type Locator struct {
	CSS     string
	HasText string
	Nth     int
	Frame   int
	Parent  *Locator
}

// Within returns a copy of l scoped to parent.
func (l Locator) Within(parent Locator) Locator {
	p := parent
	l.Parent = &p
	return l
}

// At returns a copy of l picking the nth match.
func (l Locator) At(n int) Locator {
	l.Nth = n
	return l
}

func (l Locator) String() string {
	var b strings.Builder
	if l.Parent != nil {
		b.WriteString(l.Parent.String())
		b.WriteString(" >> ")
	} else if l.Frame > 0 {
		fmt.Fprintf(&b, "iframe[%d] >> ", l.Frame-1)
	}
	b.WriteString(l.CSS)
	if l.HasText != "" {
		fmt.Fprintf(&b, ":has-text(%q)", l.HasText)
	}
	if l.Nth > 0 {
		fmt.Fprintf(&b, ":nth(%d)", l.Nth)
	}
	return b.String()
}

// FromSelector converts a profile selector into a locator.
func FromSelector(s config.Selector) Locator {
	return Locator{CSS: s.CSS, HasText: s.HasText, Nth: s.Nth, Frame: s.Frame}
}

// RequestKind is the lifecycle stage of a network request.
type RequestKind int

const (
	RequestStarted RequestKind = iota
	RequestFinished
	RequestFailed
)

// RequestEvent is one network lifecycle event observed on a page.
type RequestEvent struct {
	Kind      RequestKind
	RequestID string
	URL       string
}

// Page is a browser tab, either the primary tab or a popup opened from it.
type Page interface {
	URL(ctx context.Context) (string, error)
	// Navigate loads url and returns the HTTP status of the main document.
	Navigate(ctx context.Context, url string) (int, error)

	Count(ctx context.Context, loc Locator) (int, error)
	Text(ctx context.Context, loc Locator) (string, error)
	Attribute(ctx context.Context, loc Locator, name string) (value string, ok bool, err error)
	Visible(ctx context.Context, loc Locator) (bool, error)
	Click(ctx context.Context, loc Locator) error
	Fill(ctx context.Context, loc Locator, value string) error
	FrameCount(ctx context.Context) (int, error)
	Screenshot(ctx context.Context, path string) error

	// SubscribeRequests calls fn for every request event until the returned
	// func is called.
	SubscribeRequests(fn func(RequestEvent)) (unsubscribe func())

	// WaitPopup arms a listener for a tab opened by this page. The listener
	// is registered before WaitPopup returns. The channel yields at most one
	// page and is closed once ctx is done; a page received from it belongs
	// to the receiver.
	WaitPopup(ctx context.Context) <-chan Page

	// WaitURLChange blocks until the URL differs from from.
	WaitURLChange(ctx context.Context, from string) (string, error)

	Close(ctx context.Context) error
}
