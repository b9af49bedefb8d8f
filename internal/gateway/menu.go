package gateway

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/xkilldash9x/gatewatch/internal/config"
)

// Menu is one located menu level. Present false means the container was
// not on the page; that is an answer, not an error.
type Menu struct {
	Present bool
	Items   []Item
}

// Item is a menu entry in DOM order.
type Item struct {
	Index int
	Label string
}

// Selection is one step of a walk path. Implicit selections stand in for
// absent or empty levels and are never clicked.
type Selection struct {
	Depth    int
	Role     string
	Index    int
	Label    string
	Implicit bool

	// Items matches every entry of the level; Items.At(Index) is the entry.
	Items  Locator
	Click  *Locator
	Reader LabelReader
	Wait   time.Duration
	Settle time.Duration
}

// Target is the element to click for entry idx.
func (s Selection) Target(idx int) Locator {
	item := s.Items.At(idx)
	if s.Click == nil {
		return item
	}
	return s.Click.Within(item)
}

// LabelReader extracts an entry's label.
type LabelReader struct {
	Source      string
	Attribute   string
	Child       string
	SpaceToDash bool
}

// NewLabelReader builds a reader from a profile label source.
func NewLabelReader(src config.LabelSource) LabelReader {
	return LabelReader{Source: src.Source, Attribute: src.Attribute, Child: src.Child, SpaceToDash: src.SpaceToDash}
}

// Read returns the cleaned label of item.
func (r LabelReader) Read(ctx context.Context, page Page, item Locator) (string, error) {
	var (
		label string
		err   error
	)
	switch r.Source {
	case config.LabelAttribute:
		target := item
		if r.Child != "" {
			target = Locator{CSS: r.Child}.Within(item)
		}
		label, _, err = page.Attribute(ctx, target, r.Attribute)
	case config.LabelChildText:
		label, err = page.Text(ctx, Locator{CSS: r.Child}.Within(item))
	case config.LabelImgSrcBasename:
		img := r.Child
		if img == "" {
			img = "img"
		}
		var src string
		src, _, err = page.Attribute(ctx, Locator{CSS: img}.Within(item), "src")
		label = imgLabel(src)
	default:
		label, err = page.Text(ctx, item)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read label: %w", err)
	}

	label = strings.Join(strings.Fields(label), " ")
	if r.SpaceToDash {
		label = strings.ReplaceAll(label, " ", "-")
	}
	return label, nil
}

// imgLabel turns ".../images/bank_kbank.png?v=2" into "bank-kbank".
func imgLabel(src string) string {
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	base := path.Base(src)
	if base == "." || base == "/" {
		return ""
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	return strings.ReplaceAll(base, "_", "-")
}

// excluded reports whether label contains any of the exclusion substrings.
func excluded(label string, exclude []string) (string, bool) {
	for _, ex := range exclude {
		if ex != "" && strings.Contains(label, ex) {
			return ex, true
		}
	}
	return "", false
}
