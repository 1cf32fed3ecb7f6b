package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// RodDriver is the Driver backed by a real Chrome instance.
type RodDriver struct {
	config   *Config
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	rand     *rand.Rand
	logger   *zap.Logger
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

// LaunchRodDriver starts the browser, opens a stealth page and applies the
// configured user agent and viewport.
func LaunchRodDriver(config *Config, logger *zap.Logger) (*RodDriver, error) {
	d := &RodDriver{
		config: config,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger.Named("browser"),
	}

	// Leakless deadlocks on Windows, see https://github.com/go-rod/rod/issues/853
	useLeakless := runtime.GOOS != "windows"

	d.launcher = launcher.New().
		Leakless(useLeakless).
		Headless(config.Headless).
		Set("disable-blink-features", "AutomationControlled")

	if config.BrowserProfilePath != "" {
		d.launcher = d.launcher.UserDataDir(config.BrowserProfilePath)
		d.logger.Debug("Using browser profile", zap.String("path", config.BrowserProfilePath))
	}

	if chromePath, ok := launcher.LookPath(); ok {
		d.launcher = d.launcher.Bin(chromePath)
		d.logger.Debug("Using system Chrome", zap.String("bin", chromePath))
	} else {
		d.logger.Info("System Chrome not found, falling back to managed Chromium download")
	}

	url, err := d.launcher.Launch()
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "ProcessSingleton") || strings.Contains(msg, "SingletonLock") {
			return nil, fmt.Errorf("browser profile %s is locked by another Chrome process: %w", config.BrowserProfilePath, err)
		}
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	d.browser = rod.New().ControlURL(url)
	if err := d.browser.Connect(); err != nil {
		d.launcher.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	d.page, err = stealth.Page(d.browser)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}

	if config.UserAgent != "" {
		if err := d.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: config.UserAgent}); err != nil {
			d.logger.Warn("Failed to set user agent", zap.Error(err))
		}
	}
	if config.ViewportWidth > 0 && config.ViewportHeight > 0 {
		err := d.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             config.ViewportWidth,
			Height:            config.ViewportHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			d.logger.Warn("Failed to set viewport", zap.Error(err))
		}
	}

	d.logger.Info("Browser launched", zap.Bool("headless", config.Headless))
	return d, nil
}

func (d *RodDriver) Navigate(ctx context.Context, url string, until WaitCondition, timeout time.Duration) error {
	p := d.page.Context(ctx)
	if timeout > 0 {
		p = p.Timeout(timeout)
		defer p.CancelTimeout()
	}

	var wait func()
	switch until {
	case WaitDOMContentLoaded:
		wait = p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	case WaitNetworkIdle:
		wait = p.WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)
	}

	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	if wait != nil {
		wait()
		return p.GetContext().Err()
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("page failed to load: %w", err)
	}
	return nil
}

func (d *RodDriver) CurrentLocation(ctx context.Context) (string, error) {
	res, err := d.page.Context(ctx).Eval(`() => window.location.href`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (d *RodDriver) FindElement(ctx context.Context, loc Locator) (Element, error) {
	p := d.page.Context(ctx)

	var (
		has bool
		el  *rod.Element
		err error
	)
	if loc.Text == "" {
		has, el, err = p.Has(loc.CSS)
	} else {
		has, el, err = p.HasR(loc.CSS, regexp.QuoteMeta(loc.Text))
	}
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	return &rodElement{el: el}, nil
}

func (d *RodDriver) FindAllElements(ctx context.Context, loc Locator) ([]Element, error) {
	els, err := d.page.Context(ctx).Elements(loc.CSS)
	if err != nil {
		return nil, err
	}

	out := make([]Element, 0, len(els))
	for _, el := range els {
		if loc.Text != "" {
			text, err := el.Text()
			if err != nil || !strings.Contains(text, loc.Text) {
				continue
			}
		}
		out = append(out, &rodElement{el: el})
	}
	return out, nil
}

func (d *RodDriver) find(ctx context.Context, loc Locator) (*rod.Element, error) {
	found, err := d.FindElement(ctx, loc)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%s: %w", loc, ErrElementNotFound)
	}
	return found.(*rodElement).el.Context(ctx), nil
}

func (d *RodDriver) Click(ctx context.Context, loc Locator) error {
	el, err := d.find(ctx, loc)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		d.logger.Debug("Scroll into view failed", zap.Stringer("locator", loc), zap.Error(err))
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// Type replaces the field's content one key at a time with a small random
// pause between keys.
func (d *RodDriver) Type(ctx context.Context, loc Locator, text string) error {
	el, err := d.find(ctx, loc)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err == nil {
		if err := el.Input(""); err != nil {
			return fmt.Errorf("failed to clear %s: %w", loc, err)
		}
	}

	for _, r := range text {
		if err := el.Input(string(r)); err != nil {
			return fmt.Errorf("failed to type into %s: %w", loc, err)
		}
		if err := sleepCtx(ctx, d.keyDelay()); err != nil {
			return err
		}
	}
	return nil
}

func (d *RodDriver) keyDelay() time.Duration {
	min, max := d.config.TypingDelayMinMs, d.config.TypingDelayMaxMs
	if max <= min {
		return time.Duration(min) * time.Millisecond
	}
	return time.Duration(min+d.rand.Intn(max-min)) * time.Millisecond
}

func (d *RodDriver) SetValue(ctx context.Context, loc Locator, value string) error {
	el, err := d.find(ctx, loc)
	if err != nil {
		return err
	}
	_, err = el.Eval(`function (v) {
		this.value = v;
		this.dispatchEvent(new Event('input', { bubbles: true }));
		this.dispatchEvent(new Event('change', { bubbles: true }));
	}`, value)
	return err
}

func (d *RodDriver) EvaluateText(ctx context.Context, el Element) (string, error) {
	re, ok := el.(*rodElement)
	if !ok {
		return "", fmt.Errorf("foreign element type %T", el)
	}
	return re.el.Context(ctx).Text()
}

func (d *RodDriver) EvaluatePagePredicate(ctx context.Context, js string) (bool, error) {
	res, err := d.page.Context(ctx).Eval(js)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (d *RodDriver) Screenshot(ctx context.Context, path string) error {
	data, err := d.page.Context(ctx).Screenshot(true, nil)
	if err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Alive reports whether the browser and page still answer.
func (d *RodDriver) Alive() bool {
	if d.browser == nil {
		return false
	}
	if _, err := d.browser.Version(); err != nil {
		d.logger.Debug("Browser version check failed", zap.Error(err))
		return false
	}
	if d.page != nil {
		if _, err := d.page.Info(); err != nil {
			d.logger.Debug("Page info check failed", zap.Error(err))
			return false
		}
	}
	return true
}

func (d *RodDriver) Close() error {
	var firstErr error
	if d.page != nil {
		if err := d.page.Close(); err != nil {
			firstErr = err
		}
	}
	if d.browser != nil {
		if err := d.browser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.launcher != nil {
		d.launcher.Cleanup()
	}
	d.logger.Info("Browser closed")
	return firstErr
}
