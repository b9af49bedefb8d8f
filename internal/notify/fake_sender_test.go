package notify

import (
	"context"
	"sync"
)

type sent struct {
	Kind    string
	ChatID  string
	Path    string
	Content string
	Mode    ParseMode
}

// fakeSender records messages and fails the first calls with errs.
type fakeSender struct {
	mu   sync.Mutex
	errs []error
	log  []sent
}

func (f *fakeSender) next(s sent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, s)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeSender) SendPhoto(_ context.Context, chatID, path, caption string, mode ParseMode) error {
	return f.next(sent{Kind: "photo", ChatID: chatID, Path: path, Content: caption, Mode: mode})
}

func (f *fakeSender) SendText(_ context.Context, chatID, text string, mode ParseMode) error {
	return f.next(sent{Kind: "text", ChatID: chatID, Content: text, Mode: mode})
}

func (f *fakeSender) calls() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.log...)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
