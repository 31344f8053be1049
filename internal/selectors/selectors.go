// Package selectors provides challenge marker and DOM locator loading and management.
package selectors

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed selectors.yaml
var defaultSelectorsFS embed.FS

// LocatorKind says how a Locator value is interpreted.
type LocatorKind string

// Supported locator kinds.
const (
	KindCSS   LocatorKind = "css"
	KindXPath LocatorKind = "xpath"
)

// Locator addresses an element in the page DOM.
type Locator struct {
	Kind  LocatorKind `yaml:"kind"`
	Value string      `yaml:"value"`
}

// CSS returns a CSS selector locator.
func CSS(selector string) Locator {
	return Locator{Kind: KindCSS, Value: selector}
}

// XPath returns an XPath locator.
func XPath(expr string) Locator {
	return Locator{Kind: KindXPath, Value: expr}
}

// Text returns a locator for any element whose own text contains s.
func Text(s string) Locator {
	return XPath("//*[contains(text(), " + xpathLiteral(s) + ")]")
}

// IsZero reports whether the locator is unset.
func (l Locator) IsZero() bool {
	return l.Value == ""
}

func (l Locator) String() string {
	return string(l.Kind) + ":" + l.Value
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}

// Markers are substrings of the page source that identify a challenge page.
type Markers struct {
	GeeTest   []string `yaml:"geetest"`
	Recaptcha []string `yaml:"recaptcha"`
	Blocked   []string `yaml:"blocked"`
	BotCheck  []string `yaml:"bot_check"`
}

// Locators are the DOM elements a solving strategy interacts with.
type Locators struct {
	GeeTestContainer  Locator `yaml:"geetest_container"`
	RecaptchaFrame    Locator `yaml:"recaptcha_frame"`
	RecaptchaWidget   Locator `yaml:"recaptcha_widget"`
	RecaptchaCheckbox Locator `yaml:"recaptcha_checkbox"`
	RecaptchaChecked  Locator `yaml:"recaptcha_checked"`
}

// Selectors contains all challenge detection patterns and locators.
type Selectors struct {
	Markers                   Markers  `yaml:"markers"`
	Locators                  Locators `yaml:"locators"`
	RecaptchaSitekeyAttribute string   `yaml:"recaptcha_sitekey_attribute"`
	RecaptchaResponseID       string   `yaml:"recaptcha_response_id"`
	SolvedCallback            string   `yaml:"solved_callback"`
}

// ContainsAny reports whether html contains any of the patterns.
func ContainsAny(html string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(html, p) {
			return true
		}
	}
	return false
}

var (
	instance *Selectors
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Selectors instance.
// Patterns are loaded from the embedded selectors.yaml file.
func Get() *Selectors {
	once.Do(func() {
		instance, loadErr = load()
		if loadErr != nil {
			log.Error().Err(loadErr).Msg("Failed to load selectors, using defaults")
			instance = defaultSelectors()
		}
	})
	return instance
}

// load reads selectors from the embedded YAML file.
func load() (*Selectors, error) {
	data, err := defaultSelectorsFS.ReadFile("selectors.yaml")
	if err != nil {
		return nil, err
	}

	var s Selectors
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	log.Debug().
		Int("geetest_markers", len(s.Markers.GeeTest)).
		Int("recaptcha_markers", len(s.Markers.Recaptcha)).
		Int("blocked_markers", len(s.Markers.Blocked)).
		Msg("Selectors loaded")

	return &s, nil
}

// Validate checks that the Selectors have minimum required patterns.
func (s *Selectors) Validate() error {
	if len(s.Markers.GeeTest) == 0 && len(s.Markers.Recaptcha) == 0 && len(s.Markers.Blocked) == 0 {
		return fmt.Errorf("selectors must have at least one marker in geetest, recaptcha, or blocked")
	}
	for name, l := range map[string]Locator{
		"geetest_container":  s.Locators.GeeTestContainer,
		"recaptcha_frame":    s.Locators.RecaptchaFrame,
		"recaptcha_widget":   s.Locators.RecaptchaWidget,
		"recaptcha_checkbox": s.Locators.RecaptchaCheckbox,
		"recaptcha_checked":  s.Locators.RecaptchaChecked,
	} {
		if l.IsZero() {
			continue
		}
		// An empty kind means css.
		if l.Kind != "" && l.Kind != KindCSS && l.Kind != KindXPath {
			return fmt.Errorf("locator %s has unsupported kind %q", name, l.Kind)
		}
	}
	return nil
}

// defaultSelectors returns hardcoded fallback patterns.
func defaultSelectors() *Selectors {
	return &Selectors{
		Markers: Markers{
			GeeTest:   []string{"initGeetest"},
			Recaptcha: []string{"g-recaptcha"},
			Blocked:   []string{"Warum haben wir deine Anfrage blockiert?"},
			BotCheck:  []string{"Wir überprüfen schnell, dass du kein Roboter"},
		},
		Locators: Locators{
			GeeTestContainer:  XPath(`//*[@id="captcha-box"]`),
			RecaptchaFrame:    CSS("iframe[src^='https://www.google.com/recaptcha/api2/anchor?']"),
			RecaptchaWidget:   CSS(".g-recaptcha"),
			RecaptchaCheckbox: CSS(".recaptcha-checkbox-checkmark"),
			RecaptchaChecked:  CSS(".recaptcha-checkbox-checked"),
		},
		RecaptchaSitekeyAttribute: "data-sitekey",
		RecaptchaResponseID:       "g-recaptcha-response",
		SolvedCallback:            "solvedCaptcha",
	}
}
