package results

import (
	"fmt"
	"strings"
	"time"
)

// Verdict is the outcome category of one deposit combination.
type Verdict int

const (
	// Success means a payment page, widget or confirmation appeared.
	Success Verdict = iota
	// Failure means an error toast, a broken page or a page that never loaded.
	Failure
	// Unknown means nothing conclusive was observed.
	Unknown
	// NotGateway marks a manual bank transfer form; it is never aggregated.
	NotGateway
)

func (v Verdict) String() string {
	switch v {
	case Success:
		return "success"
	case Failure:
		return "failed"
	case Unknown:
		return "unknown"
	case NotGateway:
		return "not_gateway"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Result is a verdict with its reason. Failure and Unknown always carry a
// non-empty reason; use the constructors.
type Result struct {
	Verdict Verdict
	Reason  string
}

const (
	fallbackFailureReason = "unspecified failure"
	fallbackUnknownReason = "unidentified reason"
)

func NewSuccess(detail string) Result {
	return Result{Verdict: Success, Reason: strings.TrimSpace(detail)}
}

func NewFailure(reason string) Result {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = fallbackFailureReason
	}
	return Result{Verdict: Failure, Reason: reason}
}

func NewUnknown(reason string) Result {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = fallbackUnknownReason
	}
	return Result{Verdict: Unknown, Reason: reason}
}

func NewNotGateway(reason string) Result {
	return Result{Verdict: NotGateway, Reason: strings.TrimSpace(reason)}
}

// Combination identifies one leaf of a site's deposit menu tree. Absent
// levels are stored as "-" for the channel and "" for the others.
type Combination struct {
	Option  string
	Method  string
	Channel string
	Bank    string
}

// Key is the reporting key, "{channel}-{bank}_{method}_{option}".
func (c Combination) Key() string {
	return fmt.Sprintf("%s-%s_%s_%s", c.Channel, c.Bank, c.Method, c.Option)
}

// Column is the spreadsheet column name, "{method}_{channel}".
func (c Combination) Column() string {
	return fmt.Sprintf("%s_%s", c.Method, c.Channel)
}

func (c Combination) String() string {
	return fmt.Sprintf("option=%q method=%q channel=%q bank=%q", c.Option, c.Method, c.Channel, c.Bank)
}

// Record is one classified combination. Records are values and are not
// modified once created.
type Record struct {
	Combination    Combination
	Result         Result
	Timestamp      time.Time
	ScreenshotPath string
}

// Skip is a menu subtree that could not be reached during the walk.
type Skip struct {
	Path   []string
	Reason string
}

func (s Skip) String() string {
	return fmt.Sprintf("%s: %s", strings.Join(s.Path, " > "), s.Reason)
}

// Summary groups a report's records by verdict, in insertion order.
type Summary struct {
	Succeeded  []Record
	Failed     []Record
	Unknown    []Record
	NotReached []Skip
}

// Total is the number of aggregated records.
func (s Summary) Total() int {
	return len(s.Succeeded) + len(s.Failed) + len(s.Unknown)
}

// Problems returns failed then unknown records.
func (s Summary) Problems() []Record {
	out := make([]Record, 0, len(s.Failed)+len(s.Unknown))
	out = append(out, s.Failed...)
	return append(out, s.Unknown...)
}
