package main

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeElement struct {
	text  string
	attrs map[string]string
}

func (e *fakeElement) Attribute(_ context.Context, name string) (string, bool, error) {
	v, ok := e.attrs[name]
	return v, ok, nil
}

// fakeDriver is a scriptable in-memory page. Hooks run without the lock held
// so they can reshape the page.
type fakeDriver struct {
	mu sync.Mutex

	location string
	elements map[Locator]*fakeElement
	lists    map[Locator][]*fakeElement

	navigations []string
	waits       []WaitCondition
	clicks      map[Locator]int
	typed       map[Locator]string
	values      map[Locator]string
	screenshots []string
	closed      int
	dead        bool
	loading     bool
	scripts     []string

	navigateErr   error
	screenshotErr error

	onNavigate func(d *fakeDriver, url string)
	onClick    map[Locator]func(d *fakeDriver)
	onSetValue map[Locator]func(d *fakeDriver, value string)
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		elements:   make(map[Locator]*fakeElement),
		lists:      make(map[Locator][]*fakeElement),
		clicks:     make(map[Locator]int),
		typed:      make(map[Locator]string),
		values:     make(map[Locator]string),
		onClick:    make(map[Locator]func(d *fakeDriver)),
		onSetValue: make(map[Locator]func(d *fakeDriver, value string)),
	}
}

func (d *fakeDriver) show(loc Locator, text string) {
	d.showWithAttrs(loc, text, nil)
}

func (d *fakeDriver) showWithAttrs(loc Locator, text string, attrs map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elements[loc] = &fakeElement{text: text, attrs: attrs}
}

func (d *fakeDriver) hide(loc Locator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.elements, loc)
}

func (d *fakeDriver) setLocation(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.location = url
}

func (d *fakeDriver) setList(loc Locator, texts ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	els := make([]*fakeElement, 0, len(texts))
	for _, t := range texts {
		els = append(els, &fakeElement{text: t})
	}
	d.lists[loc] = els
}

func (d *fakeDriver) clickCount(loc Locator) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clicks[loc]
}

func (d *fakeDriver) typeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.typed)
}

func (d *fakeDriver) Navigate(_ context.Context, url string, until WaitCondition, _ time.Duration) error {
	d.mu.Lock()
	d.navigations = append(d.navigations, url)
	d.waits = append(d.waits, until)
	if d.navigateErr != nil {
		err := d.navigateErr
		d.mu.Unlock()
		return err
	}
	d.location = url
	hook := d.onNavigate
	d.mu.Unlock()

	if hook != nil {
		hook(d, url)
	}
	return nil
}

func (d *fakeDriver) CurrentLocation(_ context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.location, nil
}

func (d *fakeDriver) FindElement(_ context.Context, loc Locator) (Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.elements[loc]; ok {
		return el, nil
	}
	return nil, nil
}

func (d *fakeDriver) FindAllElements(_ context.Context, loc Locator) ([]Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Element
	for _, el := range d.lists[loc] {
		out = append(out, el)
	}
	return out, nil
}

func (d *fakeDriver) Click(_ context.Context, loc Locator) error {
	d.mu.Lock()
	if _, ok := d.elements[loc]; !ok {
		d.mu.Unlock()
		return ErrElementNotFound
	}
	d.clicks[loc]++
	hook := d.onClick[loc]
	d.mu.Unlock()

	if hook != nil {
		hook(d)
	}
	return nil
}

func (d *fakeDriver) Type(_ context.Context, loc Locator, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.elements[loc]; !ok {
		return ErrElementNotFound
	}
	d.typed[loc] = text
	return nil
}

func (d *fakeDriver) SetValue(_ context.Context, loc Locator, value string) error {
	d.mu.Lock()
	d.values[loc] = value
	hook := d.onSetValue[loc]
	d.mu.Unlock()

	if hook != nil {
		hook(d, value)
	}
	return nil
}

func (d *fakeDriver) EvaluateText(_ context.Context, el Element) (string, error) {
	fe, ok := el.(*fakeElement)
	if !ok {
		return "", errors.New("foreign element")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return fe.text, nil
}

// EvaluatePagePredicate only knows the ready-state check.
func (d *fakeDriver) EvaluatePagePredicate(_ context.Context, js string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts = append(d.scripts, js)
	if js != documentReadyJS {
		return false, errors.New("unsupported script")
	}
	return !d.loading, nil
}

func (d *fakeDriver) Screenshot(_ context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.screenshotErr != nil {
		return d.screenshotErr
	}
	d.screenshots = append(d.screenshots, path)
	return nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *fakeDriver) Alive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.dead
}

// scriptedSolver hands out tokens from a fixed sequence, "" meaning no token.
type scriptedSolver struct {
	mu      sync.Mutex
	replies []string
	calls   int
	keys    []string
}

func (s *scriptedSolver) Solve(_ context.Context, _ string, siteKey string) (ChallengeToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.keys = append(s.keys, siteKey)
	if s.calls > len(s.replies) || s.replies[s.calls-1] == "" {
		return "", false
	}
	return ChallengeToken(s.replies[s.calls-1]), true
}

type recordingSender struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
	err      error
}

func (s *recordingSender) Send(_ context.Context, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects = append(s.subjects, subject)
	s.bodies = append(s.bodies, body)
	return s.err
}
