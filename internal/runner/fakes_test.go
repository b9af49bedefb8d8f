package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xkilldash9x/gatewatch/internal/config"
	"github.com/xkilldash9x/gatewatch/internal/gateway"
	"github.com/xkilldash9x/gatewatch/internal/results"
	"github.com/xkilldash9x/gatewatch/internal/store"
)

// stubPage answers visibility from a set of CSS selectors and scripts
// navigation statuses.
type stubPage struct {
	mu        sync.Mutex
	visible   map[string]bool
	statuses  []int
	navErr    error
	navigated []string
	clicks    []string
	fills     map[string]string
}

func newStubPage(visible ...string) *stubPage {
	p := &stubPage{visible: make(map[string]bool), fills: make(map[string]string)}
	for _, v := range visible {
		p.visible[v] = true
	}
	return p
}

var _ gateway.Page = (*stubPage)(nil)

func (p *stubPage) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.navigated) == 0 {
		return "about:blank", nil
	}
	return p.navigated[len(p.navigated)-1], nil
}

func (p *stubPage) Navigate(_ context.Context, url string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	if p.navErr != nil {
		return 0, p.navErr
	}
	if len(p.statuses) == 0 {
		return 200, nil
	}
	s := p.statuses[0]
	p.statuses = p.statuses[1:]
	return s, nil
}

func (p *stubPage) Count(_ context.Context, loc gateway.Locator) (int, error) {
	if ok, _ := p.Visible(context.Background(), loc); ok {
		return 1, nil
	}
	return 0, nil
}

func (p *stubPage) Text(context.Context, gateway.Locator) (string, error) { return "", nil }

func (p *stubPage) Attribute(context.Context, gateway.Locator, string) (string, bool, error) {
	return "", false, nil
}

func (p *stubPage) Visible(_ context.Context, loc gateway.Locator) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible[loc.CSS], nil
}

func (p *stubPage) Click(_ context.Context, loc gateway.Locator) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, loc.CSS)
	return nil
}

func (p *stubPage) Fill(_ context.Context, loc gateway.Locator, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fills[loc.CSS] = value
	return nil
}

func (p *stubPage) FrameCount(context.Context) (int, error)         { return 0, nil }
func (p *stubPage) Screenshot(context.Context, string) error         { return nil }
func (p *stubPage) SubscribeRequests(func(gateway.RequestEvent)) func() { return func() {} }

func (p *stubPage) WaitPopup(ctx context.Context) <-chan gateway.Page {
	ch := make(chan gateway.Page)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func (p *stubPage) WaitURLChange(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (p *stubPage) Close(context.Context) error { return nil }

type fakeBrowser struct {
	page   gateway.Page
	mu     sync.Mutex
	closed bool
}

func (b *fakeBrowser) NewPage(context.Context) (gateway.Page, error) { return b.page, nil }

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// launcher hands out a fresh browser per attempt.
type launcher struct {
	mu       sync.Mutex
	browsers []*fakeBrowser
	newPage  func() gateway.Page
	err      error
}

func (l *launcher) Launch(context.Context) (Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	b := &fakeBrowser{page: l.newPage()}
	l.browsers = append(l.browsers, b)
	return b, nil
}

func (l *launcher) allClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.browsers {
		b.mu.Lock()
		closed := b.closed
		b.mu.Unlock()
		if !closed {
			return false
		}
	}
	return true
}

type published struct {
	Site    string
	Summary results.Summary
	At      time.Time
}

type recorder struct {
	mu       sync.Mutex
	publish  []published
	alerts   []int
	sheets   []string
	history  []store.RunMeta
	failSink bool
}

func (r *recorder) Publish(_ context.Context, site *config.SiteProfile, sum results.Summary, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publish = append(r.publish, published{Site: site.Name, Summary: sum, At: at})
	if r.failSink {
		return errors.New("telegram down")
	}
	return nil
}

func (r *recorder) Alert(_ context.Context, _ *config.SiteProfile, attempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, attempts)
	return nil
}

func (r *recorder) Append(_ context.Context, sheet string, _ time.Time, _ results.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sheets = append(r.sheets, sheet)
	if r.failSink {
		return errors.New("disk full")
	}
	return nil
}

func (r *recorder) SaveRun(_ context.Context, run store.RunMeta, _ results.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, run)
	return nil
}
