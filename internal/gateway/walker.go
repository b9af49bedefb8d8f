package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/xkilldash9x/gatewatch/internal/config"
	"github.com/xkilldash9x/gatewatch/internal/results"
	"go.uber.org/zap"
)

const (
	failedLoadReason = "payment page failed load"
	implicitLabel    = "-"
)

// WalkerOptions carries the run wide settings of a walk.
type WalkerOptions struct {
	ScreenshotDir string
	OptionPause   time.Duration
	MaxRechecks   int
	Stability     StabilityOptions
	Recovery      RecoveryOptions
	Location      *time.Location
	Now           func() time.Time
}

// Walker enumerates every leaf of a site's deposit menu, submits each one
// and records the classified outcome. All site specific behaviour comes
// from the profile.
type Walker struct {
	profile    *config.SiteProfile
	opts       WalkerOptions
	classifier *Classifier
	resolver   *Resolver
	recovery   *Recovery
	amount     *AmountParser
	submit     Locator
	logger     *zap.Logger
}

// walkState is the mutable state of one Walk call.
type walkState struct {
	page   Page
	origin string
	report *results.Report
	tested map[string]bool
}

// subtreeLost unwinds the walk to the menu level at depth after the page
// could only be restored up to that level's parent.
type subtreeLost struct {
	depth int
	err   error
}

func (e *subtreeLost) Error() string { return e.err.Error() }

func (e *subtreeLost) Unwrap() error { return e.err }

// NewWalker builds a walker for profile.
func NewWalker(profile *config.SiteProfile, opts WalkerOptions, logger *zap.Logger) (*Walker, error) {
	amount, err := NewAmountParser(profile.Leaf.Amount.Pattern, profile.Leaf.Amount.Integer)
	if err != nil {
		return nil, err
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Stability == (StabilityOptions{}) {
		opts.Stability = DefaultStability
	}
	if opts.Recovery.Stability == (StabilityOptions{}) {
		opts.Recovery.Stability = opts.Stability
	}

	logger = logger.Named("walker").With(zap.String("site", profile.Name))
	return &Walker{
		profile:    profile,
		opts:       opts,
		classifier: NewClassifier(profile.Classify, logger),
		resolver:   NewResolver(logger),
		recovery:   NewRecovery(opts.Recovery, logger),
		amount:     amount,
		submit:     FromSelector(profile.Leaf.Submit),
		logger:     logger,
	}, nil
}

// Walk visits every leaf reachable from the deposit page page is showing.
// The returned report holds whatever was recorded, even when err is set.
// Only a missing outermost menu, a deposit page that cannot be reloaded or
// ctx ending stop the walk; everything else is recorded as not reached.
func (w *Walker) Walk(ctx context.Context, page Page) (*results.Report, error) {
	st := &walkState{
		page:   page,
		report: results.NewReport(),
		tested: make(map[string]bool),
	}
	origin, err := page.URL(ctx)
	if err != nil {
		return st.report, fmt.Errorf("failed to read deposit page url: %w", err)
	}
	st.origin = origin

	err = w.walkLevel(ctx, st, 0, nil)
	w.logger.Info("Walk finished.", zap.Int("recorded", st.report.Len()), zap.Error(err))
	return st.report, err
}

func (w *Walker) walkLevel(ctx context.Context, st *walkState, depth int, path []Selection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	levels := w.profile.Menu.Levels
	if depth == len(levels) {
		return w.runLeaf(ctx, st, path)
	}

	level := levels[depth]
	log := w.logger.With(zap.String("role", level.Role), zap.Strings("path", labelsOf(path)))

	menu, items, err := w.locate(ctx, st.page, level, path)
	if err != nil {
		return err
	}

	if !menu.Present {
		switch {
		case level.Optional:
			log.Debug("Optional menu level absent.")
			return w.walkLevel(ctx, st, depth+1, extend(path, implicitSelection(depth, level)))
		case depth == 0:
			return fmt.Errorf("%w: %s container %s", ErrMenuNotFound, level.Role, level.Container.CSS)
		default:
			log.Warn("Menu level not found, skipping subtree.")
			st.report.MarkNotReached(labelsOf(path), fmt.Sprintf("%s menu not found", level.Role))
			return nil
		}
	}
	if len(menu.Items) == 0 {
		log.Debug("Menu level has no entries.")
		return w.walkLevel(ctx, st, depth+1, extend(path, implicitSelection(depth, level)))
	}

	var click *Locator
	if level.Click != nil {
		c := FromSelector(*level.Click)
		click = &c
	}
	reader := NewLabelReader(level.Label)

	visited := 0
	for _, item := range menu.Items {
		if level.MaxItems > 0 && visited >= level.MaxItems {
			log.Debug("Entry limit reached.", zap.Int("max_items", level.MaxItems))
			break
		}
		if ex, ok := excluded(item.Label, level.Exclude); ok {
			log.Info("Entry excluded, skipping.", zap.String("label", item.Label), zap.String("rule", ex))
			continue
		}
		if level.Dedup && st.tested[dedupKey(path, level.Role, item.Label)] {
			log.Info("Entry already tested, skipping.", zap.String("label", item.Label))
			continue
		}
		visited++

		sel := Selection{
			Depth:  depth,
			Role:   level.Role,
			Index:  item.Index,
			Label:  item.Label,
			Items:  items,
			Click:  click,
			Reader: reader,
			Wait:   level.Wait,
			Settle: level.Settle,
		}
		if err := st.page.Click(ctx, sel.Target(item.Index)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("Failed to select entry.", zap.String("label", item.Label), zap.Error(err))
			st.report.MarkNotReached(append(labelsOf(path), item.Label), fmt.Sprintf("failed to select %s: %v", level.Role, err))
			continue
		}
		if err := sleep(ctx, level.Settle); err != nil {
			return err
		}

		if err := w.walkLevel(ctx, st, depth+1, extend(path, sel)); err != nil {
			var lost *subtreeLost
			if !errors.As(err, &lost) || lost.depth != depth {
				return err
			}
			log.Warn("Entry lost after a reload, moving on.", zap.String("label", item.Label), zap.Error(lost.err))
			if depth+1 < len(levels) {
				st.report.MarkNotReached(append(labelsOf(path), item.Label), fmt.Sprintf("rest of %s not reached: %v", level.Role, lost.err))
			}
		}

		if depth == 0 {
			if err := sleep(ctx, w.opts.OptionPause); err != nil {
				return err
			}
		}
	}
	return nil
}

// locate finds a level's container and reads its entries in DOM order. It
// returns the locator matching every entry of the level.
func (w *Walker) locate(ctx context.Context, page Page, level config.MenuLevel, path []Selection) (Menu, Locator, error) {
	items := FromSelector(level.Item)

	var parent *Locator
	if level.ScopeToParent {
		for i := len(path) - 1; i >= 0; i-- {
			if !path[i].Implicit {
				p := path[i].Items.At(path[i].Index)
				parent = &p
				break
			}
		}
	}

	probe := items
	if !level.Container.IsZero() {
		container := FromSelector(level.Container)
		if level.ContainerIndex > 0 {
			container = container.At(level.ContainerIndex)
		}
		if parent != nil {
			container = container.Within(*parent)
		}
		items = items.Within(container)
		probe = container
	} else if parent != nil {
		items = items.Within(*parent)
		probe = items
	}

	present, err := WaitPresent(ctx, page, probe, level.Wait)
	if err != nil {
		return Menu{}, items, err
	}
	if !present {
		return Menu{Present: false}, items, nil
	}

	n, err := page.Count(ctx, items)
	if err != nil {
		if ctx.Err() != nil {
			return Menu{}, items, ctx.Err()
		}
		w.logger.Warn("Failed to count menu entries.", zap.String("role", level.Role), zap.Error(err))
		return Menu{Present: true}, items, nil
	}

	reader := NewLabelReader(level.Label)
	menu := Menu{Present: true, Items: make([]Item, 0, n)}
	for i := 0; i < n; i++ {
		label, err := reader.Read(ctx, page, items.At(i))
		if err != nil {
			if ctx.Err() != nil {
				return Menu{}, items, ctx.Err()
			}
			w.logger.Warn("Failed to read menu entry label.", zap.String("role", level.Role), zap.Int("index", i), zap.Error(err))
			continue
		}
		menu.Items = append(menu.Items, Item{Index: i, Label: label})
	}
	w.logger.Debug("Menu level located.", zap.String("role", level.Role), zap.Int("entries", len(menu.Items)))
	return menu, items, nil
}

// runLeaf fills, submits, classifies and records one combination, then
// puts the primary page back for the next sibling.
func (w *Walker) runLeaf(ctx context.Context, st *walkState, path []Selection) error {
	combo := combinationOf(path)
	log := w.logger.With(zap.String("combination", combo.Key()))

	if st.report.Has(combo.Key()) {
		log.Info("Combination already recorded, skipping.")
		return nil
	}

	if err := w.fillForm(ctx, st.page); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("Leaf could not be completed.", zap.Error(err))
		st.report.MarkNotReached(labelsOf(path), err.Error())
		return nil
	}

	submit := func(ctx context.Context) error { return st.page.Click(ctx, w.submit) }
	resubmit := func(ctx context.Context) error {
		if err := w.fillForm(ctx, st.page); err != nil {
			return err
		}
		return submit(ctx)
	}

	nav := w.profile.Navigation
	outcome, err := w.resolver.ResolveWithRetry(ctx, st.page, submit, RetryPolicy{Timeouts: nav.Timeouts, Pause: nav.RetryPause})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("Submit failed.", zap.Error(err))
		st.report.MarkNotReached(labelsOf(path), fmt.Sprintf("%v: %v", ErrLeafIncomplete, err))
		return w.restore(ctx, st, path)
	}
	log.Info("Submit resolved.", zap.Stringer("outcome", outcome.Kind), zap.String("url", outcome.URL))

	target, mode := st.page, ModeSameTab
	if outcome.Kind == NewTab {
		target, mode = outcome.Popup, ModePopup
	}

	var res results.Result
	if outcome.Kind == NoChange && nav.Required {
		res = results.NewFailure(failedLoadReason)
	} else {
		res, target, err = w.judge(ctx, st, path, target, mode, outcome.Kind != NoChange, resubmit)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("Recheck failed, leaf not completed.", zap.Error(err))
			st.report.MarkNotReached(labelsOf(path), err.Error())
			return w.restore(ctx, st, path)
		}
	}

	shot := w.screenshot(ctx, target, combo)
	st.report.Record(results.Record{
		Combination:    combo,
		Result:         res,
		Timestamp:      w.opts.Now().In(w.opts.Location),
		ScreenshotPath: shot,
	})
	w.markTested(st, path)
	log.Info("Combination classified.", zap.Stringer("verdict", res.Verdict), zap.String("reason", res.Reason))

	if mode == ModePopup {
		_, err := w.recovery.Recover(ctx, st.page, path, ModePopup, RecoverOptions{Popup: target})
		return err
	}
	return w.restore(ctx, st, path)
}

// judge classifies target, rechecking while the verdict stays Unknown after
// a navigation. A navigation that never settles is inconclusive; if it is
// still inconclusive once the rechecks run out the page failed to load.
func (w *Walker) judge(ctx context.Context, st *walkState, path []Selection, target Page, mode Mode, navigated bool, resubmit func(context.Context) error) (results.Result, Page, error) {
	res, settled := w.classifyOnce(ctx, target, navigated)

	for i := 0; navigated && res.Verdict == results.Unknown && i < w.opts.MaxRechecks; i++ {
		w.logger.Info("Inconclusive result, rechecking.", zap.Int("recheck", i+1), zap.Stringer("mode", mode))

		opts := RecoverOptions{Origin: st.origin, Recheck: true, Resubmit: resubmit}
		if mode == ModePopup {
			opts.Popup = target
		}
		next, err := w.recovery.Recover(ctx, st.page, path, mode, opts)
		if err != nil {
			return res, nil, err
		}
		target = next
		res, settled = w.classifyOnce(ctx, target, navigated)
	}

	if navigated && res.Verdict == results.Unknown && !settled {
		res = results.NewFailure(failedLoadReason)
	}
	return res, target, nil
}

func (w *Walker) classifyOnce(ctx context.Context, target Page, navigated bool) (results.Result, bool) {
	if err := sleep(ctx, w.profile.Navigation.PreClassifyDelay); err != nil {
		return results.NewUnknown("classification interrupted"), false
	}
	settled, err := AwaitStable(ctx, target, w.opts.Stability, w.logger)
	if err != nil {
		return results.NewUnknown("classification interrupted"), false
	}
	return w.classifier.Classify(ctx, target, navigated && settled), settled
}

// restore reloads the deposit page and replays path so the next sibling
// can be selected. When an entry of path can no longer be selected the page
// is restored up to that entry's parent and a *subtreeLost is returned for
// the entry's level. Only a deposit page that cannot be reloaded is fatal.
func (w *Walker) restore(ctx context.Context, st *walkState, path []Selection) error {
	target := path
	var lost *subtreeLost
	for {
		page, err := w.recovery.Recover(ctx, st.page, target, ModeSameTab, RecoverOptions{Origin: st.origin})
		if err == nil {
			st.page = page
			if lost != nil {
				return lost
			}
			return nil
		}
		var rerr *ReplayError
		if ctx.Err() != nil || !errors.As(err, &rerr) {
			return err
		}
		w.logger.Warn("Menu path not restorable, falling back to its parent.",
			zap.Strings("path", labelsOf(target)), zap.String("lost", rerr.Label), zap.Error(rerr))
		lost = &subtreeLost{depth: target[rerr.Step].Depth, err: err}
		target = target[:rerr.Step]
	}
}

func (w *Walker) fillForm(ctx context.Context, page Page) error {
	leaf := w.profile.Leaf
	for _, f := range leaf.Prefill {
		loc := FromSelector(f.Field)
		ok, err := WaitPresent(ctx, page, loc, leaf.Amount.Wait)
		if err != nil {
			return err
		}
		if !ok {
			if f.Optional {
				continue
			}
			return fmt.Errorf("%w: field %s not found", ErrLeafIncomplete, loc)
		}
		if err := page.Fill(ctx, loc, os.ExpandEnv(f.Value)); err != nil {
			return fmt.Errorf("%w: failed to fill %s: %w", ErrLeafIncomplete, loc, err)
		}
	}

	amount, err := w.minAmount(ctx, page)
	if err != nil {
		return err
	}

	input := FromSelector(leaf.Amount.Input)
	ok, err := WaitPresent(ctx, page, input, leaf.Amount.Wait)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: amount input %s not found", ErrLeafIncomplete, input)
	}
	if err := page.Fill(ctx, input, amount); err != nil {
		return fmt.Errorf("%w: failed to fill amount: %w", ErrLeafIncomplete, err)
	}
	w.logger.Debug("Deposit form filled.", zap.String("amount", amount))
	return nil
}

// minAmount reads the amount hint until the pattern matches, falling back
// to the profile default.
func (w *Walker) minAmount(ctx context.Context, page Page) (string, error) {
	a := w.profile.Leaf.Amount
	if !a.Hint.IsZero() && a.Pattern != "" {
		hint := FromSelector(a.Hint)
		var amount string
		ok, err := waitFor(ctx, a.Wait, func(ctx context.Context) (Probe, error) {
			var (
				text string
				err  error
			)
			if a.HintAttribute != "" && a.HintAttribute != config.LabelText {
				text, _, err = page.Attribute(ctx, hint, a.HintAttribute)
			} else {
				text, err = page.Text(ctx, hint)
			}
			if err != nil {
				return Probe{}, err
			}
			v, found := w.amount.Parse(text)
			if found {
				amount = v
			}
			return Probe{Found: found, Text: text}, nil
		})
		if err != nil {
			return "", err
		}
		if ok {
			return amount, nil
		}
		w.logger.Warn("Minimum amount hint not readable.", zap.String("hint", hint.String()))
	}
	if a.Default != "" {
		return a.Default, nil
	}
	return "", fmt.Errorf("%w: minimum amount not found", ErrLeafIncomplete)
}

var unsafeFileChars = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)

// ScreenshotPath is where the screenshot of combo is written.
func (w *Walker) ScreenshotPath(combo results.Combination) string {
	part := func(s string) string { return unsafeFileChars.ReplaceAllString(s, "-") }
	name := fmt.Sprintf("%s_%s_%s_%s-%s.png",
		part(w.profile.ScreenshotPrefix), part(combo.Option), part(combo.Method), part(combo.Channel), part(combo.Bank))
	return filepath.Join(w.opts.ScreenshotDir, name)
}

func (w *Walker) screenshot(ctx context.Context, page Page, combo results.Combination) string {
	path := w.ScreenshotPath(combo)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		w.logger.Warn("Failed to create screenshot directory.", zap.Error(err))
		return ""
	}
	if err := page.Screenshot(ctx, path); err != nil {
		w.logger.Warn("Failed to take screenshot.", zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}

func (w *Walker) markTested(st *walkState, path []Selection) {
	for i, sel := range path {
		if sel.Implicit {
			continue
		}
		level := w.profile.Menu.Levels[sel.Depth]
		if level.Dedup {
			st.tested[dedupKey(path[:i], sel.Role, sel.Label)] = true
		}
	}
}

// dedupKey scopes tested labels to the outermost selection, so a method
// seen under one bank is skipped under the next bank of the same option.
func dedupKey(parents []Selection, role, label string) string {
	scope := ""
	if len(parents) > 0 {
		scope = parents[0].Label
	}
	return scope + "\x00" + role + "\x00" + label
}

func implicitSelection(depth int, level config.MenuLevel) Selection {
	label := implicitLabel
	if level.Role == config.RoleBank {
		label = ""
	}
	return Selection{Depth: depth, Role: level.Role, Label: label, Implicit: true}
}

// combinationOf maps a full path to its combination. Roles the profile does
// not use at all take their implicit label.
func combinationOf(path []Selection) results.Combination {
	c := results.Combination{Option: implicitLabel, Method: implicitLabel, Channel: implicitLabel}
	for _, sel := range path {
		switch sel.Role {
		case config.RoleOption:
			c.Option = sel.Label
		case config.RoleMethod:
			c.Method = sel.Label
		case config.RoleChannel:
			c.Channel = sel.Label
		case config.RoleBank:
			c.Bank = sel.Label
		}
	}
	return c
}

// extend appends sel to a copy of path.
func extend(path []Selection, sel Selection) []Selection {
	out := make([]Selection, len(path), len(path)+1)
	copy(out, path)
	return append(out, sel)
}

func labelsOf(path []Selection) []string {
	out := make([]string, 0, len(path))
	for _, sel := range path {
		if sel.Implicit {
			continue
		}
		out = append(out, strings.TrimSpace(sel.Label))
	}
	return out
}
