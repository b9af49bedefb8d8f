// internal/browser/page.go
package browser

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewatch/internal/gateway"
)

const (
	defaultActionTimeout = 30 * time.Second
	urlPollInterval      = 100 * time.Millisecond
	closeTimeout         = 5 * time.Second
)

// PageOptions bounds individual browser operations.
type PageOptions struct {
	ActionTimeout     time.Duration
	NavigationTimeout time.Duration
	ScreenshotTimeout time.Duration
}

// Page is a chromedp tab. It implements gateway.Page.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
	id     target.ID
	opts   PageOptions
	logger *zap.Logger

	mu      sync.Mutex
	subs    map[int]func(gateway.RequestEvent)
	nextSub int

	tags      atomic.Uint64
	closeOnce sync.Once
}

var _ gateway.Page = (*Page)(nil)

func newPage(ctx context.Context, cancel context.CancelFunc, opts PageOptions, logger *zap.Logger) *Page {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = defaultActionTimeout
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = defaultActionTimeout
	}
	if opts.ScreenshotTimeout <= 0 {
		opts.ScreenshotTimeout = defaultActionTimeout
	}

	var id target.ID
	if c := chromedp.FromContext(ctx); c != nil && c.Target != nil {
		id = c.Target.TargetID
	}
	p := &Page{
		ctx:    ctx,
		cancel: cancel,
		id:     id,
		opts:   opts,
		logger: logger.With(zap.String("target", string(id))),
		subs:   make(map[int]func(gateway.RequestEvent)),
	}
	chromedp.ListenTarget(ctx, p.dispatch)
	return p
}

// dispatch fans one CDP listener out to every request subscriber. It runs on
// chromedp's event goroutine and must not block.
func (p *Page) dispatch(ev any) {
	var re gateway.RequestEvent
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		re = gateway.RequestEvent{Kind: gateway.RequestStarted, RequestID: string(e.RequestID)}
		if e.Request != nil {
			re.URL = e.Request.URL
		}
	case *network.EventLoadingFinished:
		re = gateway.RequestEvent{Kind: gateway.RequestFinished, RequestID: string(e.RequestID)}
	case *network.EventLoadingFailed:
		re = gateway.RequestEvent{Kind: gateway.RequestFailed, RequestID: string(e.RequestID)}
	default:
		return
	}

	p.mu.Lock()
	fns := make([]func(gateway.RequestEvent), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(re)
	}
}

// SubscribeRequests registers fn for network events until the returned
// func is called.
func (p *Page) SubscribeRequests(fn func(gateway.RequestEvent)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs, id)
		})
	}
}

// run executes actions on the tab, bounded by ctx and timeout.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	if timeout > 0 {
		var tcancel context.CancelFunc
		runCtx, tcancel = context.WithTimeout(runCtx, timeout)
		defer tcancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func (p *Page) resolve(ctx context.Context, loc gateway.Locator, op, arg string) (probe, error) {
	expr, err := expression(loc, op, arg)
	if err != nil {
		return probe{}, err
	}
	var res probe
	if err := p.run(ctx, p.opts.ActionTimeout, chromedp.Evaluate(expr, &res)); err != nil {
		return probe{}, fmt.Errorf("failed to evaluate %s on %s: %w", op, loc, err)
	}
	return res, nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, p.opts.ActionTimeout, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("failed to read url: %w", err)
	}
	return u, nil
}

// Navigate loads url and returns the main document's HTTP status. Same
// document navigations have no response and report 200.
func (p *Page) Navigate(ctx context.Context, url string) (int, error) {
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	navCtx, navCancel := context.WithTimeout(runCtx, p.opts.NavigationTimeout)
	defer navCancel()

	p.logger.Debug("Navigating.", zap.String("url", url))
	resp, err := chromedp.RunResponse(navCtx, chromedp.Navigate(url))
	if err != nil {
		return 0, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if resp == nil {
		return 200, nil
	}
	return int(resp.Status), nil
}

func (p *Page) Count(ctx context.Context, loc gateway.Locator) (int, error) {
	res, err := p.resolve(ctx, loc, opCount, "")
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (p *Page) Text(ctx context.Context, loc gateway.Locator) (string, error) {
	res, err := p.resolve(ctx, loc, opText, "")
	if err != nil {
		return "", err
	}
	if !res.Found {
		return "", fmt.Errorf("no element matches %s", loc)
	}
	return res.Text, nil
}

func (p *Page) Attribute(ctx context.Context, loc gateway.Locator, name string) (string, bool, error) {
	res, err := p.resolve(ctx, loc, opAttr, name)
	if err != nil {
		return "", false, err
	}
	if !res.Found {
		return "", false, fmt.Errorf("no element matches %s", loc)
	}
	return res.Text, res.OK, nil
}

// Visible reports false for elements that do not exist.
func (p *Page) Visible(ctx context.Context, loc gateway.Locator) (bool, error) {
	res, err := p.resolve(ctx, loc, opVisible, "")
	if err != nil {
		return false, err
	}
	return res.Found && res.OK, nil
}

// Click tags the element through the resolver and clicks it with real mouse
// events. Elements inside iframes, and elements chromedp cannot click, get
// a DOM click instead.
func (p *Page) Click(ctx context.Context, loc gateway.Locator) error {
	if rootFrame(loc) > 0 {
		return p.domAction(ctx, loc, opClick, "")
	}

	sel, untag, err := p.tag(ctx, loc)
	if err != nil {
		return err
	}
	defer untag()

	err = p.run(ctx, p.opts.ActionTimeout,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible),
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.logger.Debug("Mouse click failed, falling back to DOM click.", zap.String("locator", loc.String()), zap.Error(err))
	return p.domAction(ctx, loc, opClick, "")
}

// Fill sets the input's value and fires input and change. If the value does
// not stick it types the text instead.
func (p *Page) Fill(ctx context.Context, loc gateway.Locator, value string) error {
	if rootFrame(loc) > 0 {
		return p.domAction(ctx, loc, opFill, value)
	}

	sel, untag, err := p.tag(ctx, loc)
	if err != nil {
		return err
	}
	defer untag()

	quoted, _ := json.Marshal(sel)
	err = p.run(ctx, p.opts.ActionTimeout,
		chromedp.SetValue(sel, value, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(dispatchJS, quoted), nil),
	)
	if err == nil {
		if res, verr := p.resolve(ctx, loc, opValue, ""); verr == nil && res.Text == value {
			return nil
		}
	} else if ctx.Err() != nil {
		return ctx.Err()
	}

	p.logger.Debug("Value did not stick, typing instead.", zap.String("locator", loc.String()), zap.Error(err))
	if err := p.run(ctx, p.opts.ActionTimeout,
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to fill %s: %w", loc, err)
	}
	return nil
}

func (p *Page) domAction(ctx context.Context, loc gateway.Locator, op, arg string) error {
	res, err := p.resolve(ctx, loc, op, arg)
	if err != nil {
		return err
	}
	if !res.Found {
		return fmt.Errorf("no element matches %s", loc)
	}
	return nil
}

// tag marks the element with a unique attribute so chromedp can query it by
// CSS. The returned func removes the mark.
func (p *Page) tag(ctx context.Context, loc gateway.Locator) (string, func(), error) {
	token := "t" + strconv.FormatUint(p.tags.Add(1), 10)
	res, err := p.resolve(ctx, loc, opTag, token)
	if err != nil {
		return "", func() {}, err
	}
	if !res.Found {
		return "", func() {}, fmt.Errorf("no element matches %s", loc)
	}
	untag := func() {
		cleanupCtx, cancel := context.WithTimeout(Detach(ctx), closeTimeout)
		defer cancel()
		_, _ = p.resolve(cleanupCtx, loc, opUntag, "")
	}
	return tagSelector(token), untag, nil
}

func (p *Page) FrameCount(ctx context.Context) (int, error) {
	res, err := p.resolve(ctx, gateway.Locator{CSS: "iframe"}, opFrames, "")
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (p *Page) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := p.run(ctx, p.opts.ScreenshotTimeout, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot %s: %w", path, err)
	}
	return nil
}

// WaitPopup watches for a tab opened by this one. The channel yields the
// attached popup at most once and is closed when ctx ends or after
// delivery.
func (p *Page) WaitPopup(ctx context.Context) <-chan gateway.Page {
	out := make(chan gateway.Page, 1)
	waitCtx, cancel := CombineContext(p.ctx, ctx)
	ids := chromedp.WaitNewTarget(waitCtx, func(info *target.Info) bool {
		return info.OpenerID == p.id && info.Type == "page"
	})

	go func() {
		defer close(out)
		defer cancel()

		var id target.ID
		select {
		case got, ok := <-ids:
			if !ok {
				return
			}
			id = got
		case <-waitCtx.Done():
			return
		}

		popup, err := p.attach(id)
		if err != nil {
			p.logger.Warn("Failed to attach to popup.", zap.String("popup", string(id)), zap.Error(err))
			return
		}
		out <- popup
	}()
	return out
}

func (p *Page) attach(id target.ID) (*Page, error) {
	tabCtx, cancel := chromedp.NewContext(p.ctx, chromedp.WithTargetID(id))
	attachCtx, attachCancel := context.WithTimeout(tabCtx, p.opts.ActionTimeout)
	defer attachCancel()
	if err := chromedp.Run(attachCtx, network.Enable()); err != nil {
		cancel()
		return nil, err
	}
	return newPage(tabCtx, cancel, p.opts, p.logger), nil
}

func (p *Page) WaitURLChange(ctx context.Context, from string) (string, error) {
	ticker := time.NewTicker(urlPollInterval)
	defer ticker.Stop()
	for {
		if u, err := p.URL(ctx); err == nil && u != from {
			return u, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close closes the tab. Calling it again is a no-op.
func (p *Page) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(Detach(p.ctx), closeTimeout)
		defer cancel()
		if ctx.Err() == nil {
			var stop context.CancelFunc
			closeCtx, stop = CombineContext(closeCtx, ctx)
			defer stop()
		}
		if cerr := chromedp.Run(closeCtx, page.Close()); cerr != nil {
			err = fmt.Errorf("failed to close tab: %w", cerr)
		}
		p.cancel()
	})
	return err
}
