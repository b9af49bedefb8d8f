// File: internal/config/site.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Menu level roles. Every leaf combination is built from one label per role.
const (
	RoleOption  = "option"
	RoleMethod  = "method"
	RoleChannel = "channel"
	RoleBank    = "bank"
)

// Label sources for menu items.
const (
	LabelText           = "text"
	LabelAttribute      = "attribute"
	LabelChildText      = "child_text"
	LabelImgSrcBasename = "img_src_basename"
)

// Login step actions.
const (
	StepGoto  = "goto"
	StepClick = "click"
	StepFill  = "fill"
	StepWait  = "wait"
	StepSleep = "sleep"
)

var defaultErrorMarkers = []string{
	"404 Page Not Found",
	"This site can’t be reached",
	"This page isn’t working",
}

// SiteProfile is the selector map and flow description of one site. The same
// walker drives every site; everything that differs between them lives here.
type SiteProfile struct {
	Name             string            `yaml:"name"`
	Team             string            `yaml:"team"`
	URL              string            `yaml:"url"`
	DisplayURL       string            `yaml:"display_url"`
	DepositURL       string            `yaml:"deposit_url"`
	Sheet            string            `yaml:"sheet"`
	ScreenshotPrefix string            `yaml:"screenshot_prefix"`
	Mentions         []Mention         `yaml:"mentions"`
	Login            []LoginStep       `yaml:"login"`
	Menu             MenuProfile       `yaml:"menu"`
	Leaf             LeafProfile       `yaml:"leaf"`
	Navigation       NavigationProfile `yaml:"navigation"`
	Classify         ClassifyProfile   `yaml:"classify"`

	// Path is the file the profile was read from.
	Path string `yaml:"-"`
}

// Mention is a Telegram user tagged in failure captions.
type Mention struct {
	Name   string `yaml:"name"`
	UserID int64  `yaml:"user_id"`
}

// Selector is the YAML form of a page locator.
type Selector struct {
	CSS     string `yaml:"css"`
	HasText string `yaml:"has_text"`
	Nth     int    `yaml:"nth"`

	// Frame selects the document: 0 is the top document, i is the (i-1)th iframe.
	Frame int `yaml:"frame"`
}

// IsZero reports whether the selector was left out of the profile.
func (s Selector) IsZero() bool { return s.CSS == "" }

// LoginStep is one step of the login flow.
type LoginStep struct {
	Name     string        `yaml:"name"`
	Action   string        `yaml:"action"`
	URL      string        `yaml:"url"`
	Selector Selector      `yaml:"selector"`
	Value    string        `yaml:"value"`
	Timeout  time.Duration `yaml:"timeout"`
	Duration time.Duration `yaml:"duration"`
	Optional bool          `yaml:"optional"`
}

// MenuProfile lists the nested deposit menu levels, outermost first.
type MenuProfile struct {
	Levels []MenuLevel `yaml:"levels"`
}

// MenuLevel describes how to find and label the items of one menu level.
type MenuLevel struct {
	Role           string        `yaml:"role"`
	Container      Selector      `yaml:"container"`
	ContainerIndex int           `yaml:"container_index"`
	Item           Selector      `yaml:"item"`
	Click          *Selector     `yaml:"click"`
	ScopeToParent  bool          `yaml:"scope_to_parent"`
	Optional       bool          `yaml:"optional"`
	Wait           time.Duration `yaml:"wait"`
	Label          LabelSource   `yaml:"label"`
	Exclude        []string      `yaml:"exclude"`
	MaxItems       int           `yaml:"max_items"`
	Dedup          bool          `yaml:"dedup"`
	Settle         time.Duration `yaml:"settle"`
}

// LabelSource tells the walker where an item's label comes from. For the
// attribute source a non-empty Child reads the attribute from that child.
type LabelSource struct {
	Source    string `yaml:"source"`
	Attribute string `yaml:"attribute"`
	Child     string `yaml:"child"`

	// SpaceToDash replaces spaces in the label, as the reporting keys expect.
	SpaceToDash bool `yaml:"space_to_dash"`
}

// LeafProfile describes the deposit form filled at every leaf.
type LeafProfile struct {
	Prefill []FieldFill   `yaml:"prefill"`
	Amount  AmountProfile `yaml:"amount"`
	Submit  Selector      `yaml:"submit"`
}

// FieldFill fills a form field before the amount.
type FieldFill struct {
	Field    Selector `yaml:"field"`
	Value    string   `yaml:"value"`
	Optional bool     `yaml:"optional"`
}

// AmountProfile locates the minimum amount hint and the amount input.
// HintAttribute "text" reads the hint's inner text instead of an attribute.
type AmountProfile struct {
	Hint          Selector      `yaml:"hint"`
	HintAttribute string        `yaml:"hint_attribute"`
	Pattern       string        `yaml:"pattern"`
	Input         Selector      `yaml:"input"`
	Default       string        `yaml:"default"`
	Integer       bool          `yaml:"integer"`
	Wait          time.Duration `yaml:"wait"`
}

// NavigationProfile tunes the submit race.
type NavigationProfile struct {
	Required         bool            `yaml:"required"`
	Timeouts         []time.Duration `yaml:"timeouts"`
	RetryPause       time.Duration   `yaml:"retry_pause"`
	PreClassifyDelay time.Duration   `yaml:"pre_classify_delay"`
}

// ClassifyProfile drives the outcome detectors.
type ClassifyProfile struct {
	Toast            Selector      `yaml:"toast"`
	ToastAttempts    int           `yaml:"toast_attempts"`
	ToastInterval    time.Duration `yaml:"toast_interval"`
	ErrorSelector    Selector      `yaml:"error_selector"`
	ErrorMarkers     []string      `yaml:"error_markers"`
	QRSelectors      []string      `yaml:"qr_selectors"`
	IframeSandbox    string        `yaml:"iframe_sandbox"`
	Confirmation     Selector      `yaml:"confirmation"`
	ConfirmationWait time.Duration `yaml:"confirmation_wait"`
	ManualBankLabel  Selector      `yaml:"manual_bank_label"`
	ManualBankTexts  []string      `yaml:"manual_bank_texts"`
}

// LoadSiteProfile reads, defaults and validates a single profile file.
func LoadSiteProfile(path string) (*SiteProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read site profile: %w", err)
	}

	var p SiteProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse site profile %s: %w", path, err)
	}
	p.Path = path
	p.ApplyDefaults()

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid site profile %s: %w", path, err)
	}
	return &p, nil
}

// LoadSiteProfiles loads every *.yaml and *.yml file in dir, sorted by file
// name. Duplicate site names are rejected.
func LoadSiteProfiles(dir string) ([]*SiteProfile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sites directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	seen := make(map[string]string, len(files))
	profiles := make([]*SiteProfile, 0, len(files))
	for _, f := range files {
		p, err := LoadSiteProfile(f)
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(p.Name)
		if prev, ok := seen[key]; ok {
			return nil, fmt.Errorf("site %q defined twice (%s and %s)", p.Name, prev, f)
		}
		seen[key] = f
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// ApplyDefaults fills in unset values.
func (p *SiteProfile) ApplyDefaults() {
	if p.Sheet == "" {
		p.Sheet = p.Name
	}
	if p.ScreenshotPrefix == "" {
		p.ScreenshotPrefix = strings.ToUpper(p.Name)
	}
	if p.Team == "" {
		p.Team = strings.ToUpper(p.Name)
	}
	if p.DisplayURL == "" {
		p.DisplayURL = p.URL
	}
	if p.DepositURL == "" {
		p.DepositURL = p.URL
	}

	for i := range p.Login {
		if p.Login[i].Action == StepGoto && p.Login[i].Timeout == 0 {
			p.Login[i].Timeout = 60 * time.Second
		}
		if p.Login[i].Action == StepWait && p.Login[i].Timeout == 0 {
			p.Login[i].Timeout = 10 * time.Second
		}
	}

	for i := range p.Menu.Levels {
		l := &p.Menu.Levels[i]
		if l.Label.Source == "" {
			l.Label.Source = LabelText
		}
		if l.Wait == 0 {
			l.Wait = 5 * time.Second
		}
		if l.Settle == 0 {
			l.Settle = time.Second
		}
	}

	a := &p.Leaf.Amount
	if a.Wait == 0 {
		a.Wait = 5 * time.Second
	}
	if a.HintAttribute == "" && !a.Hint.IsZero() {
		a.HintAttribute = "placeholder"
	}

	n := &p.Navigation
	if len(n.Timeouts) == 0 {
		if n.Required {
			n.Timeouts = []time.Duration{30 * time.Second, 5 * time.Second}
		} else {
			n.Timeouts = []time.Duration{5 * time.Second}
		}
	}
	if n.RetryPause == 0 {
		n.RetryPause = 5 * time.Second
	}

	c := &p.Classify
	if c.ToastAttempts == 0 {
		c.ToastAttempts = 20
	}
	if c.ToastInterval == 0 {
		c.ToastInterval = 100 * time.Millisecond
	}
	if len(c.ErrorMarkers) == 0 {
		c.ErrorMarkers = append([]string(nil), defaultErrorMarkers...)
	}
	if c.IframeSandbox == "" {
		c.IframeSandbox = "allow-forms allow-scripts"
	}
	if c.ConfirmationWait == 0 {
		c.ConfirmationWait = 5 * time.Second
	}
}

// Validate checks that the profile can drive a walk.
func (p *SiteProfile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.URL == "" {
		return fmt.Errorf("url is required")
	}
	for i, s := range p.Login {
		if err := s.validate(); err != nil {
			return fmt.Errorf("login[%d] (%s): %w", i, s.Name, err)
		}
	}
	if len(p.Menu.Levels) == 0 {
		return fmt.Errorf("menu.levels must list at least one level")
	}
	roles := make(map[string]bool, len(p.Menu.Levels))
	for i, l := range p.Menu.Levels {
		switch l.Role {
		case RoleOption, RoleMethod, RoleChannel, RoleBank:
		default:
			return fmt.Errorf("menu.levels[%d]: unknown role %q", i, l.Role)
		}
		if roles[l.Role] {
			return fmt.Errorf("menu.levels[%d]: role %q used twice", i, l.Role)
		}
		roles[l.Role] = true
		if l.Item.IsZero() {
			return fmt.Errorf("menu.levels[%d]: item.css is required", i)
		}
		if l.MaxItems < 0 {
			return fmt.Errorf("menu.levels[%d]: max_items must not be negative", i)
		}
		switch l.Label.Source {
		case LabelText, LabelImgSrcBasename:
		case LabelAttribute:
			if l.Label.Attribute == "" {
				return fmt.Errorf("menu.levels[%d]: label.attribute is required for source attribute", i)
			}
		case LabelChildText:
			if l.Label.Child == "" {
				return fmt.Errorf("menu.levels[%d]: label.child is required for source child_text", i)
			}
		default:
			return fmt.Errorf("menu.levels[%d]: unknown label source %q", i, l.Label.Source)
		}
	}
	if p.Leaf.Submit.IsZero() {
		return fmt.Errorf("leaf.submit.css is required")
	}
	if p.Leaf.Amount.Input.IsZero() {
		return fmt.Errorf("leaf.amount.input.css is required")
	}
	if p.Leaf.Amount.Pattern == "" && p.Leaf.Amount.Default == "" {
		return fmt.Errorf("leaf.amount needs a pattern or a default")
	}
	for _, d := range p.Navigation.Timeouts {
		if d <= 0 {
			return fmt.Errorf("navigation.timeouts must be positive durations")
		}
	}
	return nil
}

func (s LoginStep) validate() error {
	switch s.Action {
	case StepGoto:
		if s.URL == "" {
			return fmt.Errorf("goto needs a url")
		}
	case StepClick, StepWait:
		if s.Selector.IsZero() {
			return fmt.Errorf("%s needs a selector", s.Action)
		}
	case StepFill:
		if s.Selector.IsZero() {
			return fmt.Errorf("fill needs a selector")
		}
	case StepSleep:
		if s.Duration <= 0 {
			return fmt.Errorf("sleep needs a positive duration")
		}
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
	return nil
}

// Level returns the menu level with the given role.
func (p *SiteProfile) Level(role string) (MenuLevel, bool) {
	for _, l := range p.Menu.Levels {
		if l.Role == role {
			return l, true
		}
	}
	return MenuLevel{}, false
}
