package main

import (
	"context"
	"time"
)

var cascadeStages = []StageID{StageSelectCentre, StageSelectCategory, StageSelectSubcategory}

func loginSettings(cfg *Config) LoginSettings {
	sel := cfg.Selectors
	return LoginSettings{
		URL:               cfg.LoginURL,
		NotFoundFragment:  cfg.NotFoundFragment,
		DashboardFragment: cfg.DashboardFragment,
		ErrorFragment:     cfg.ErrorFragment,
		DashboardMarker:   sel.DashboardMarker,
		ErrorMarker:       sel.LoginError,
		Consent: Affordance{
			Name:    "cookie consent",
			Locator: sel.ConsentButton,
			Wait:    seconds(cfg.ConsentWaitSeconds),
			Settle:  milliseconds(cfg.DropdownSettleMs),
		},
		Challenge:       sel.Challenge,
		SiteKeyAttr:     sel.SiteKeyAttr,
		SiteKey:         cfg.SolverSiteKey,
		TokenInput:      sel.TokenInput,
		Username:        sel.Username,
		Password:        sel.Password,
		Submit:          sel.SignInButton,
		NavigateWait:    cfg.NavigationWaitCondition(),
		NavigateTimeout: seconds(cfg.NavigationTimeout),
		Settle:          cfg.SettleDelay(),
		SolveTimeout:    seconds(cfg.SolveTimeout),
		FormWait:        seconds(cfg.FormWaitSeconds),
		FieldWait:       seconds(cfg.FieldWaitSeconds),
		ResultTimeout:   seconds(cfg.LoginResultTimeout),
		Interval:        cfg.PollInterval(),
	}
}

// BuildPlan wires the fixed stage sequence for one run.
func BuildPlan(cfg *Config, driver Driver, login *LoginFlow) Plan {
	interval := cfg.PollInterval()
	notFound := locationContains(driver, cfg.NotFoundFragment)
	onDashboard := locationContains(driver, cfg.DashboardFragment)

	awaitDashboard := Stage{
		ID: StageAwaitDashboard,
		Action: func(ctx context.Context) error {
			if onDashboard(ctx) || cfg.DashboardURL == "" {
				return nil
			}
			return driver.Navigate(ctx, cfg.DashboardURL, cfg.NavigationWaitCondition(), seconds(cfg.NavigationTimeout))
		},
		Done:     allOf(onDashboard, documentReady(driver)),
		Fatal:    notFound,
		Policy:   FixedPolicy(cfg.DashboardRetries, seconds(cfg.RetryDelaySeconds)),
		Timeout:  seconds(cfg.DashboardTimeout),
		Interval: interval,
	}

	bookingReady := []Predicate{locationContains(driver, cfg.BookingFragments...)}
	if len(cfg.Cascade) > 0 {
		bookingReady = append(bookingReady, present(driver, cfg.Cascade[0].Control))
	}
	inBooking := anyOf(bookingReady...)
	startBooking := Stage{
		ID: StageStartBooking,
		Action: func(ctx context.Context) error {
			if inBooking(ctx) {
				return nil
			}
			if err := waitFor(ctx, driver, cfg.Selectors.StartBooking, seconds(cfg.FieldWaitSeconds), interval); err != nil {
				return err
			}
			return driver.Click(ctx, cfg.Selectors.StartBooking)
		},
		Done:     inBooking,
		Fatal:    notFound,
		Policy:   FixedPolicy(cfg.BookingRetries, seconds(cfg.BookingRetryDelay)),
		Timeout:  seconds(cfg.BookingNavTimeout),
		Interval: interval,
	}

	return Plan{
		Stages: []Stage{
			login.Stage(cfg.LoginPolicy(), seconds(cfg.FieldWaitSeconds), interval),
			awaitDashboard,
			startBooking,
		},
		Fields: cascadeFields(cfg),
		Extract: ExtractSettings{
			Settle:   milliseconds(cfg.ResultSettleDelayMs),
			Timeout:  seconds(cfg.ResultWaitSeconds),
			Interval: interval,
			Fallback: cfg.FallbackMessage,
		},
	}
}

func cascadeFields(cfg *Config) []DropdownField {
	fields := make([]DropdownField, 0, len(cfg.Cascade))
	for i, f := range cfg.Cascade {
		if i >= len(cascadeStages) {
			break
		}
		fields = append(fields, DropdownField{
			ID:       cascadeStages[i],
			Control:  f.Control,
			Option:   f.Option,
			Expect:   f.Expect,
			Settle:   milliseconds(cfg.DropdownSettleMs),
			Policy:   FixedPolicy(cfg.DropdownRetries, seconds(cfg.BookingRetryDelay)),
			Timeout:  seconds(cfg.DropdownWaitSeconds),
			Interval: cfg.PollInterval(),
		})
	}
	return fields
}

// runTimeout is a generous ceiling for the whole run, derived from the
// per-stage budgets.
func runTimeout(cfg *Config) time.Duration {
	login := time.Duration(cfg.MaxRetries) * (seconds(cfg.NavigationTimeout) + seconds(cfg.SolveTimeout) +
		seconds(cfg.FormWaitSeconds) + seconds(cfg.LoginResultTimeout) + seconds(cfg.MaxRetryDelay))
	rest := time.Duration(cfg.DashboardRetries)*seconds(cfg.DashboardTimeout+cfg.NavigationTimeout) +
		time.Duration(cfg.BookingRetries)*seconds(cfg.BookingNavTimeout+cfg.FieldWaitSeconds+cfg.BookingRetryDelay) +
		time.Duration(len(cfg.Cascade)*cfg.DropdownRetries)*3*seconds(cfg.DropdownWaitSeconds) +
		seconds(cfg.ResultWaitSeconds) + 5*time.Minute
	return login + rest
}
