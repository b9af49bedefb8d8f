package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeEl is one element of the scripted DOM.
type fakeEl struct {
	text   string
	attrs  map[string]string
	hidden bool
}

type popupWaiter struct {
	ch        chan Page
	delivered bool
	closed    bool
}

// fakePage is a scripted Page. Elements are keyed by the locator chain with
// the last Nth cleared, so a locator's Nth indexes the element list.
type fakePage struct {
	mu sync.Mutex

	url      string
	els      map[string][]fakeEl
	build    func(f *fakePage)
	onClick  map[string]func(f *fakePage, nth int)
	clickErr map[string]error
	selected map[string]int
	frames   int
	closed   bool
	// noisy pages report a request to every new subscriber.
	noisy bool

	// navStatus scripts Navigate responses; once drained every call gets 200.
	navStatus []int

	clicks      []string
	fills       map[string]string
	navigations []string
	screenshots []string

	subs    map[int]func(RequestEvent)
	nextSub int
	waiters []*popupWaiter
	orphans []Page
}

func newFakePage(url string, build func(f *fakePage)) *fakePage {
	f := &fakePage{
		url:      url,
		build:    build,
		els:      make(map[string][]fakeEl),
		onClick:  make(map[string]func(*fakePage, int)),
		clickErr: make(map[string]error),
		selected: make(map[string]int),
		fills:    make(map[string]string),
		subs:     make(map[int]func(RequestEvent)),
	}
	if build != nil {
		build(f)
	}
	return f
}

func keyOf(loc Locator) string { return loc.At(0).String() }

// -- scripting helpers --

func (f *fakePage) set(loc Locator, els ...fakeEl) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.els[keyOf(loc)] = els
}

func (f *fakePage) texts(loc Locator, texts ...string) {
	els := make([]fakeEl, len(texts))
	for i, t := range texts {
		els[i] = fakeEl{text: t}
	}
	f.set(loc, els...)
}

func (f *fakePage) remove(loc Locator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.els, keyOf(loc))
}

func (f *fakePage) on(loc Locator, fn func(f *fakePage, nth int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClick[keyOf(loc)] = fn
}

func (f *fakePage) setURL(u string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = u
}

func (f *fakePage) selectedIndex(loc Locator) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.selected[keyOf(loc)]
	return n, ok
}

func (f *fakePage) openPopup(p Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.waiters {
		if !w.closed && !w.delivered {
			w.ch <- p
			w.delivered = true
			return
		}
	}
	f.orphans = append(f.orphans, p)
}

func (f *fakePage) emit(ev RequestEvent) {
	f.mu.Lock()
	fns := make([]func(RequestEvent), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *fakePage) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakePage) waiterCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.waiters {
		if !w.closed {
			n++
		}
	}
	return n
}

func (f *fakePage) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakePage) clickLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.clicks...)
}

func (f *fakePage) navigationLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigations...)
}

func (f *fakePage) fillValue(loc Locator) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fills[keyOf(loc)]
}

func (f *fakePage) element(loc Locator) (fakeEl, error) {
	els, ok := f.els[keyOf(loc)]
	if !ok || loc.Nth >= len(els) {
		return fakeEl{}, fmt.Errorf("no element matches %s", loc)
	}
	return els[loc.Nth], nil
}

// -- Page --

func (f *fakePage) URL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakePage) Navigate(ctx context.Context, url string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	f.navigations = append(f.navigations, url)
	status := 200
	if len(f.navStatus) > 0 {
		status, f.navStatus = f.navStatus[0], f.navStatus[1:]
	}
	if status >= 400 {
		f.mu.Unlock()
		return status, nil
	}
	f.url = url
	f.els = make(map[string][]fakeEl)
	f.selected = make(map[string]int)
	build := f.build
	f.mu.Unlock()

	if build != nil {
		build(f)
	}
	return status, nil
}

func (f *fakePage) Count(_ context.Context, loc Locator) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.els[keyOf(loc)]), nil
}

func (f *fakePage) Text(_ context.Context, loc Locator) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	el, err := f.element(loc)
	return el.text, err
}

func (f *fakePage) Attribute(_ context.Context, loc Locator, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	el, err := f.element(loc)
	if err != nil {
		return "", false, err
	}
	v, ok := el.attrs[name]
	return v, ok, nil
}

func (f *fakePage) Visible(_ context.Context, loc Locator) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	el, err := f.element(loc)
	if err != nil {
		return false, nil
	}
	return !el.hidden, nil
}

func (f *fakePage) Click(ctx context.Context, loc Locator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	key := keyOf(loc)
	if err := f.clickErr[key]; err != nil {
		f.mu.Unlock()
		return err
	}
	if _, err := f.element(loc); err != nil {
		f.mu.Unlock()
		return err
	}
	f.clicks = append(f.clicks, loc.String())
	f.selected[key] = loc.Nth
	hook := f.onClick[key]
	f.mu.Unlock()

	if hook != nil {
		hook(f, loc.Nth)
	}
	return nil
}

func (f *fakePage) Fill(_ context.Context, loc Locator, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.element(loc); err != nil {
		return err
	}
	f.fills[keyOf(loc)] = value
	return nil
}

func (f *fakePage) FrameCount(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames, nil
}

func (f *fakePage) Screenshot(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screenshots = append(f.screenshots, path)
	return nil
}

func (f *fakePage) SubscribeRequests(fn func(RequestEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	if f.noisy {
		fn(RequestEvent{Kind: RequestStarted, RequestID: "beacon"})
	}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakePage) WaitPopup(ctx context.Context) <-chan Page {
	w := &popupWaiter{ch: make(chan Page, 1)}
	f.mu.Lock()
	f.waiters = append(f.waiters, w)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		w.closed = true
		close(w.ch)
	}()
	return w.ch
}

func (f *fakePage) WaitURLChange(ctx context.Context, from string) (string, error) {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		if u, _ := f.URL(ctx); u != from {
			return u, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *fakePage) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ Page = (*fakePage)(nil)
