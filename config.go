package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LoginURL          string `yaml:"login_url"`
	DashboardURL      string `yaml:"dashboard_url"`
	DashboardFragment string `yaml:"dashboard_fragment"`
	NotFoundFragment  string `yaml:"not_found_fragment"`
	ErrorFragment     string `yaml:"error_fragment"`

	BookingFragments []string `yaml:"booking_fragments"`

	SolverURL     string `yaml:"solver_url"`
	SolverSiteKey string `yaml:"solver_site_key"`

	BrowserProfilePath string `yaml:"browser_profile_path"`
	UserAgent          string `yaml:"user_agent"`
	ViewportWidth      int    `yaml:"viewport_width"`
	ViewportHeight     int    `yaml:"viewport_height"`
	Headless           bool   `yaml:"headless"`
	TypingDelayMinMs   int    `yaml:"typing_delay_min_ms"`
	TypingDelayMaxMs   int    `yaml:"typing_delay_max_ms"`

	NavigationWait string `yaml:"navigation_wait"`

	NavigationTimeout   int `yaml:"navigation_timeout"`
	PollIntervalMs      int `yaml:"poll_interval_ms"`
	SettleDelayMs       int `yaml:"settle_delay_ms"`
	ConsentWaitSeconds  int `yaml:"consent_wait_seconds"`
	SolveTimeout        int `yaml:"solve_timeout"`
	FormWaitSeconds     int `yaml:"form_wait_seconds"`
	FieldWaitSeconds    int `yaml:"field_wait_seconds"`
	LoginResultTimeout  int `yaml:"login_result_timeout"`
	DashboardTimeout    int `yaml:"dashboard_timeout"`
	BookingNavTimeout   int `yaml:"booking_nav_timeout"`
	DropdownWaitSeconds int `yaml:"dropdown_wait_seconds"`
	DropdownSettleMs    int `yaml:"dropdown_settle_ms"`
	ResultWaitSeconds   int `yaml:"result_wait_seconds"`
	ResultSettleDelayMs int `yaml:"result_settle_delay_ms"`

	MaxRetries        int     `yaml:"max_retries"`
	RetryDelaySeconds int     `yaml:"retry_delay_seconds"`
	RetryBackoff      float64 `yaml:"retry_backoff"`
	MaxRetryDelay     int     `yaml:"max_retry_delay"`
	DashboardRetries  int     `yaml:"dashboard_retries"`
	BookingRetries    int     `yaml:"booking_retries"`
	BookingRetryDelay int     `yaml:"booking_retry_delay"`
	DropdownRetries   int     `yaml:"dropdown_retries"`

	CheckpointDir string `yaml:"checkpoint_dir"`

	NotifyOnFailure         bool     `yaml:"notify_on_failure"`
	NotifyOnlyWhenAvailable bool     `yaml:"notify_only_when_available"`
	UnavailablePhrases      []string `yaml:"unavailable_phrases"`
	SMTPHost                string   `yaml:"smtp_host"`
	SMTPPort                int      `yaml:"smtp_port"`

	ResultKeywords  []string `yaml:"result_keywords"`
	FallbackMessage string   `yaml:"fallback_message"`

	DebugMode bool `yaml:"debug_mode"`

	Log       LogConfig      `yaml:"log"`
	Selectors SelectorConfig `yaml:"selectors"`
	Cascade   []CascadeField `yaml:"cascade"`
}

type SelectorConfig struct {
	ConsentButton   Locator   `yaml:"consent_button"`
	Challenge       Locator   `yaml:"challenge"`
	SiteKeyAttr     string    `yaml:"site_key_attr"`
	TokenInput      Locator   `yaml:"token_input"`
	Username        Locator   `yaml:"username"`
	Password        Locator   `yaml:"password"`
	SignInButton    Locator   `yaml:"sign_in_button"`
	DashboardMarker Locator   `yaml:"dashboard_marker"`
	LoginError      Locator   `yaml:"login_error"`
	StartBooking    Locator   `yaml:"start_booking"`
	StatusBanner    Locator   `yaml:"status_banner"`
	Alerts          []Locator `yaml:"alerts"`
}

type CascadeField struct {
	Name    string  `yaml:"name"`
	Control Locator `yaml:"control"`
	Option  Locator `yaml:"option"`
	Expect  string  `yaml:"expect"`
}

// Credentials come from the environment only and are never written to disk.
type Credentials struct {
	Email         string
	Password      string
	MailSender    string
	MailPassword  string
	MailRecipient string
	MaxRetries    int
}

func DefaultConfig() *Config {
	userDataDir := getUserDataDir()

	return &Config{
		LoginURL:            "https://visa.vfsglobal.com/aus/en/ind/login",
		DashboardURL:        "https://visa.vfsglobal.com/aus/en/ind/dashboard",
		DashboardFragment:   "dashboard",
		NotFoundFragment:    "page-not-found",
		ErrorFragment:       "error",
		BookingFragments:    []string{"application-detail", "booking"},
		SolverURL:           "http://127.0.0.1:5000",
		BrowserProfilePath:  filepath.Join(userDataDir, "browser-profile"),
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36",
		ViewportWidth:       1920,
		ViewportHeight:      1080,
		Headless:            false,
		TypingDelayMinMs:    40,
		TypingDelayMaxMs:    140,
		NavigationWait:      "domcontentloaded",
		NavigationTimeout:   90,
		PollIntervalMs:      500,
		SettleDelayMs:       3000,
		ConsentWaitSeconds:  20,
		SolveTimeout:        120,
		FormWaitSeconds:     30,
		FieldWaitSeconds:    10,
		LoginResultTimeout:  60,
		DashboardTimeout:    60,
		BookingNavTimeout:   20,
		DropdownWaitSeconds: 15,
		DropdownSettleMs:    2000,
		ResultWaitSeconds:   10,
		ResultSettleDelayMs: 3000,
		MaxRetries:          10,
		RetryDelaySeconds:   5,
		RetryBackoff:        1,
		MaxRetryDelay:       60,
		DashboardRetries:    2,
		BookingRetries:      3,
		BookingRetryDelay:   3,
		DropdownRetries:     3,
		CheckpointDir:       filepath.Join(userDataDir, "checkpoints"),
		NotifyOnFailure:     true,
		UnavailablePhrases:  []string{"no appointment slots"},
		SMTPHost:            "smtp.gmail.com",
		SMTPPort:            587,
		ResultKeywords:      []string{"appointment", "slot", "available"},
		FallbackMessage:     defaultResultMessage,
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSize:    20,
			MaxBackups: 5,
			MaxAge:     14,
		},
		Selectors: SelectorConfig{
			ConsentButton:   Locator{CSS: "#onetrust-accept-btn-handler"},
			Challenge:       Locator{CSS: ".cf-turnstile, [data-sitekey]"},
			SiteKeyAttr:     "data-sitekey",
			TokenInput:      Locator{CSS: "input[name='cf-turnstile-response']"},
			Username:        Locator{CSS: "input[formcontrolname='username']"},
			Password:        Locator{CSS: "input[formcontrolname='password']"},
			SignInButton:    Locator{CSS: "button.mdc-button--outlined .mdc-button__label"},
			DashboardMarker: Locator{CSS: ".dashboard"},
			LoginError:      Locator{CSS: ".error, .alert-danger"},
			StartBooking:    Locator{CSS: "button.mdc-button--raised .mdc-button__label"},
			StatusBanner:    Locator{CSS: "div.alert.alert-info"},
			Alerts: []Locator{
				{CSS: ".alert"},
				{CSS: "[role='alert']"},
				{CSS: "mat-error, .mat-error"},
				{CSS: ".border-info, .text-info"},
			},
		},
		Cascade: []CascadeField{
			{
				Name:    "centre",
				Control: Locator{CSS: "mat-select[formcontrolname='centerCode']"},
				Option:  Locator{CSS: "mat-option[id='INME']"},
				Expect:  "Melbourne",
			},
			{
				Name:    "category",
				Control: Locator{CSS: "mat-select[formcontrolname='selectedSubvisaCategory']"},
				Option:  Locator{CSS: "mat-option", Text: "Passport Services"},
				Expect:  "Passport Services",
			},
			{
				Name:    "subcategory",
				Control: Locator{CSS: "mat-select[formcontrolname='visaCategoryCode']"},
				Option:  Locator{CSS: "mat-option", Text: "Passport Application"},
				Expect:  "Passport Application",
			},
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	if config.DebugMode {
		config.Log.Level = "debug"
	}

	if config.BrowserProfilePath != "" {
		if err := os.MkdirAll(config.BrowserProfilePath, 0755); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	var errs []error
	if c.LoginURL == "" {
		errs = append(errs, errors.New("login_url is required"))
	}
	if c.SolverURL == "" {
		errs = append(errs, errors.New("solver_url is required"))
	}
	if c.PollIntervalMs <= 0 {
		errs = append(errs, errors.New("poll_interval_ms must be positive"))
	}
	if c.NavigationTimeout <= 0 {
		errs = append(errs, errors.New("navigation_timeout must be positive"))
	}
	if c.SolveTimeout <= 0 {
		errs = append(errs, errors.New("solve_timeout must be positive"))
	}
	if _, err := ParseWaitCondition(c.NavigationWait); err != nil {
		errs = append(errs, fmt.Errorf("navigation_wait: %w", err))
	}
	if c.MaxRetries < 1 || c.BookingRetries < 1 || c.DropdownRetries < 1 {
		errs = append(errs, errors.New("retry counts must be at least 1"))
	}
	if len(c.Cascade) > 3 {
		errs = append(errs, fmt.Errorf("cascade has %d fields, at most 3 are supported", len(c.Cascade)))
	}
	for i, f := range c.Cascade {
		if f.Control.IsZero() || f.Option.IsZero() {
			errs = append(errs, fmt.Errorf("cascade field %d (%s) needs control and option selectors", i+1, f.Name))
		}
	}
	return errors.Join(errs...)
}

func seconds(n int) time.Duration      { return time.Duration(n) * time.Second }
func milliseconds(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c *Config) PollInterval() time.Duration { return milliseconds(c.PollIntervalMs) }
func (c *Config) SettleDelay() time.Duration  { return milliseconds(c.SettleDelayMs) }

// NavigationWaitCondition is the lifecycle event page loads wait for. An
// unparsable name falls back to domcontentloaded; Validate reports it.
func (c *Config) NavigationWaitCondition() WaitCondition {
	w, _ := ParseWaitCondition(c.NavigationWait)
	return w
}

// LoginPolicy is the retry policy of the login stage.
func (c *Config) LoginPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: c.MaxRetries,
		Delay:       seconds(c.RetryDelaySeconds),
		Backoff:     c.RetryBackoff,
		MaxDelay:    seconds(c.MaxRetryDelay),
	}
}

// LoadCredentials reads account and mail secrets from the environment.
// MAX_STAGE_RETRIES, when set, overrides max_retries from the file.
func LoadCredentials() (Credentials, error) {
	v := viper.New()
	for _, key := range []string{"VFS_EMAIL", "VFS_PASSWORD", "EMAIL_SENDER", "EMAIL_SENDER_PASS", "EMAIL_RECEIVER", "MAX_STAGE_RETRIES"} {
		if err := v.BindEnv(key); err != nil {
			return Credentials{}, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	creds := Credentials{
		Email:         v.GetString("VFS_EMAIL"),
		Password:      v.GetString("VFS_PASSWORD"),
		MailSender:    v.GetString("EMAIL_SENDER"),
		MailPassword:  v.GetString("EMAIL_SENDER_PASS"),
		MailRecipient: v.GetString("EMAIL_RECEIVER"),
		MaxRetries:    v.GetInt("MAX_STAGE_RETRIES"),
	}

	if creds.Email == "" || creds.Password == "" {
		return creds, errors.New("VFS_EMAIL and VFS_PASSWORD must be set")
	}
	return creds, nil
}

func (c Credentials) MailConfigured() bool {
	return c.MailSender != "" && c.MailRecipient != ""
}
