package main

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// PageContent is a snapshot of the text the matchers look at.
type PageContent struct {
	Banner string
	Alerts []string
	Body   string
}

// Matcher looks for a status message in a snapshot.
type Matcher struct {
	Name string
	Find func(PageContent) (string, bool)
}

type ResultExtractor struct {
	driver   Driver
	banner   Locator
	alerts   []Locator
	matchers []Matcher
	logger   *zap.Logger
}

func NewResultExtractor(driver Driver, banner Locator, alerts []Locator, keywords []string, logger *zap.Logger) *ResultExtractor {
	return &ResultExtractor{
		driver:   driver,
		banner:   banner,
		alerts:   alerts,
		matchers: DefaultMatchers(keywords),
		logger:   logger.Named("extract"),
	}
}

// DefaultMatchers orders the heuristics from most to least specific.
func DefaultMatchers(keywords []string) []Matcher {
	return []Matcher{
		{Name: "banner", Find: func(c PageContent) (string, bool) {
			return firstMatching([]string{c.Banner}, keywords)
		}},
		{Name: "alerts", Find: func(c PageContent) (string, bool) {
			return firstMatching(c.Alerts, keywords)
		}},
		{Name: "body", Find: func(c PageContent) (string, bool) {
			return firstMatching(strings.Split(c.Body, "\n"), keywords)
		}},
	}
}

// Match runs the matchers left to right; first hit wins.
func Match(content PageContent, matchers []Matcher) (string, string, bool) {
	for _, p := range matchers {
		if msg, ok := p.Find(content); ok {
			return msg, p.Name, true
		}
	}
	return "", "", false
}

func firstMatching(candidates []string, keywords []string) (string, bool) {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c != "" && containsKeyword(c, keywords) {
			return c, true
		}
	}
	return "", false
}

func containsKeyword(s string, keywords []string) bool {
	lower := strings.ToLower(s)
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// Snapshot reads the current page. Unreadable parts are left empty.
func (x *ResultExtractor) Snapshot(ctx context.Context) PageContent {
	var content PageContent
	if !x.banner.IsZero() {
		content.Banner = elementText(ctx, x.driver, x.banner)
	}
	for _, loc := range x.alerts {
		els, err := x.driver.FindAllElements(ctx, loc)
		if err != nil {
			continue
		}
		for _, el := range els {
			if text, err := x.driver.EvaluateText(ctx, el); err == nil {
				content.Alerts = append(content.Alerts, text)
			}
		}
	}
	content.Body = elementText(ctx, x.driver, Locator{CSS: "body"})
	return content
}

// Extract returns the first status message found, or false. A miss is normal.
func (x *ResultExtractor) Extract(ctx context.Context) (string, bool) {
	msg, matcher, ok := Match(x.Snapshot(ctx), x.matchers)
	if ok {
		x.logger.Debug("Status message found", zap.String("matcher", matcher), zap.String("message", msg))
	}
	return msg, ok
}
