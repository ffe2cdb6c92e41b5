package sites

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/chromedp/chromedp"

	"github.com/Parsh06/Stock-Backend/internal/services/browser"
)

// ErrSiteInteraction is returned when a page step fails
var ErrSiteInteraction = errors.New("site interaction failed")

// Site keys used by task configuration
const (
	BSESecurities        = "bse-securities"
	ChittorgarhMainboard = "chittorgarh-mainboard"
	ChittorgarhSME       = "chittorgarh-sme"
)

// Driver navigates a site until its export download has been triggered
type Driver interface {
	Name() string
	Trigger(ctx context.Context, session *browser.Session) error
}

// InteractionError names the site and step that failed
type InteractionError struct {
	Site string
	Step string
	Err  error
}

func (e *InteractionError) Error() string {
	return fmt.Sprintf("%s: %s: step %q: %v", ErrSiteInteraction, e.Site, e.Step, e.Err)
}

func (e *InteractionError) Unwrap() []error {
	return []error{ErrSiteInteraction, e.Err}
}

// runner is the part of browser.Session a driver needs
type runner interface {
	Run(ctx context.Context, actions ...chromedp.Action) error
}

// Registry maps site keys to drivers
type Registry map[string]Driver

// DefaultRegistry holds the BSE and Chittorgarh drivers
func DefaultRegistry() Registry {
	r := Registry{}
	for _, d := range []Driver{NewBSESecurities(), NewChittorgarhMainboard(), NewChittorgarhSME()} {
		r.Register(d)
	}
	return r
}

// Register adds or replaces a driver under its name
func (r Registry) Register(d Driver) {
	r[d.Name()] = d
}

// Get returns the driver for site
func (r Registry) Get(site string) (Driver, error) {
	d, ok := r[site]
	if !ok {
		return nil, fmt.Errorf("unknown site %q (known: %v)", site, r.Names())
	}
	return d, nil
}

// Names returns the registered site keys, sorted
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
