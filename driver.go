package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// WaitCondition selects which page lifecycle event Navigate waits for.
type WaitCondition int

const (
	WaitDOMContentLoaded WaitCondition = iota
	WaitLoad
	WaitNetworkIdle
)

var waitConditionNames = map[WaitCondition]string{
	WaitDOMContentLoaded: "domcontentloaded",
	WaitLoad:             "load",
	WaitNetworkIdle:      "networkidle",
}

func (w WaitCondition) String() string {
	if name, ok := waitConditionNames[w]; ok {
		return name
	}
	return fmt.Sprintf("WaitCondition(%d)", int(w))
}

// ParseWaitCondition maps a config name to its WaitCondition. The empty
// string means domcontentloaded.
func ParseWaitCondition(s string) (WaitCondition, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return WaitDOMContentLoaded, nil
	}
	for w, n := range waitConditionNames {
		if n == name {
			return w, nil
		}
	}
	return WaitDOMContentLoaded, fmt.Errorf("unknown wait condition %q", s)
}

// Locator addresses an element by CSS selector and, optionally, by the text it
// contains.
type Locator struct {
	CSS  string `yaml:"css"`
	Text string `yaml:"text,omitempty"`
}

func (l Locator) String() string {
	if l.Text == "" {
		return l.CSS
	}
	return l.CSS + " ~ " + l.Text
}

func (l Locator) IsZero() bool { return l.CSS == "" }

var ErrElementNotFound = errors.New("element not found")

// Element is a handle to a node in the live page.
type Element interface {
	Attribute(ctx context.Context, name string) (string, bool, error)
}

// Driver is the browser session the stages act on. FindElement and
// FindAllElements query the page as it is right now and never wait; an absent
// element is (nil, nil).
type Driver interface {
	Navigate(ctx context.Context, url string, until WaitCondition, timeout time.Duration) error
	CurrentLocation(ctx context.Context) (string, error)
	FindElement(ctx context.Context, loc Locator) (Element, error)
	FindAllElements(ctx context.Context, loc Locator) ([]Element, error)
	Click(ctx context.Context, loc Locator) error
	Type(ctx context.Context, loc Locator, text string) error
	SetValue(ctx context.Context, loc Locator, value string) error
	EvaluateText(ctx context.Context, el Element) (string, error)
	EvaluatePagePredicate(ctx context.Context, js string) (bool, error)
	Screenshot(ctx context.Context, path string) error
	Close() error
}

// present is a predicate that holds while loc matches an element.
func present(d Driver, loc Locator) Predicate {
	return func(ctx context.Context) bool {
		el, err := d.FindElement(ctx, loc)
		return err == nil && el != nil
	}
}

// locationContains holds when the current URL contains any of the fragments.
func locationContains(d Driver, fragments ...string) Predicate {
	return func(ctx context.Context) bool {
		loc, err := d.CurrentLocation(ctx)
		if err != nil {
			return false
		}
		for _, f := range fragments {
			if f != "" && strings.Contains(loc, f) {
				return true
			}
		}
		return false
	}
}

const documentReadyJS = `() => document.readyState === 'complete'`

// documentReady holds once the page reports it finished loading.
func documentReady(d Driver) Predicate {
	return func(ctx context.Context) bool {
		ok, err := d.EvaluatePagePredicate(ctx, documentReadyJS)
		return err == nil && ok
	}
}

// waitFor polls for loc and returns ErrElementNotFound once timeout passes.
func waitFor(ctx context.Context, d Driver, loc Locator, timeout, interval time.Duration) error {
	if PollUntil(ctx, present(d, loc), timeout, interval) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrElementNotFound
}

func elementText(ctx context.Context, d Driver, loc Locator) string {
	el, err := d.FindElement(ctx, loc)
	if err != nil || el == nil {
		return ""
	}
	text, err := d.EvaluateText(ctx, el)
	if err != nil {
		return ""
	}
	return text
}
