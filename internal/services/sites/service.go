package sites

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/Parsh06/Stock-Backend/internal/logger"
	"github.com/Parsh06/Stock-Backend/internal/services/browser"
)

const (
	bseListURL         = "https://www.bseindia.com/corporates/List_Scrips.html"
	chittorgarhMainURL = "https://www.chittorgarh.com/report/ipo-in-india-list-main-board-sme/82/all/"
	chittorgarhSMEURL  = "https://www.chittorgarh.com/report/ipo-in-india-list-main-board-sme/82/sme/"

	elementTimeout = 30 * time.Second
	pageSettle     = 5 * time.Second
)

const selectSegmentScript = `(function() {
	var segment = document.getElementById('ddlsegment');
	if (!segment) throw new Error('Segment dropdown not found');
	var options = [];
	for (var i = 0; i < segment.options.length; i++) {
		options.push(segment.options[i].text);
		if (segment.options[i].text === %s) {
			segment.selectedIndex = i;
			segment.dispatchEvent(new Event('change'));
			return true;
		}
	}
	throw new Error(%s + ' option not found. Available options: ' + options.join(', '));
})()`

const removeOverlaysScript = `(function() {
	var removed = 0;
	document.querySelectorAll('.modal, .popup, .overlay, .advertisement, .ad-banner, .consent-banner, .cookie-banner, .gdpr-banner')
		.forEach(function(el) { el.remove(); removed++; });
	document.querySelectorAll('[style*="position: fixed"], [style*="position:fixed"]')
		.forEach(function(el) { if (el.style.zIndex > 1000) { el.remove(); removed++; } });
	return removed;
})()`

const clickScript = `(function() {
	var el = document.querySelector(%s);
	if (!el) return false;
	el.click();
	return true;
})()`

type step struct {
	name   string
	action chromedp.Action
}

// scripted is a Driver defined by an ordered list of page steps
type scripted struct {
	name  string
	steps []step
}

func (d *scripted) Name() string {
	return d.name
}

func (d *scripted) Trigger(ctx context.Context, session *browser.Session) error {
	return d.run(ctx, session)
}

func (d *scripted) run(ctx context.Context, r runner) error {
	for _, st := range d.steps {
		logger.Debug("Site step", zap.String("site", d.name), zap.String("step", st.name))
		if err := r.Run(ctx, st.action); err != nil {
			return &InteractionError{Site: d.name, Step: st.name, Err: err}
		}
	}
	logger.Info("Download triggered", zap.String("site", d.name))
	return nil
}

func (d *scripted) stepNames() []string {
	names := make([]string, len(d.steps))
	for i, st := range d.steps {
		names[i] = st.name
	}
	return names
}

// NewBSESecurities opens the BSE scrip list, selects the Equity T+1 segment and downloads it
func NewBSESecurities() Driver {
	return &scripted{
		name: BSESecurities,
		steps: []step{
			{"navigate", chromedp.Navigate(bseListURL)},
			{"settle", chromedp.Sleep(pageSettle)},
			{"select segment", selectOption("Equity T+1")},
			{"submit", clickFirst(elementTimeout, "#btnSubmit", "input[type='submit'], button[type='submit']")},
			{"settle results", chromedp.Sleep(pageSettle)},
			{"download", clickFirst(elementTimeout, "#lnkDownload")},
		},
	}
}

// NewChittorgarhMainboard exports the mainboard IPO report
func NewChittorgarhMainboard() Driver {
	return chittorgarh(ChittorgarhMainboard, chittorgarhMainURL)
}

// NewChittorgarhSME exports the SME IPO report
func NewChittorgarhSME() Driver {
	return chittorgarh(ChittorgarhSME, chittorgarhSMEURL)
}

func chittorgarh(name, url string) *scripted {
	return &scripted{
		name: name,
		steps: []step{
			{"navigate", chromedp.Navigate(url)},
			{"settle", chromedp.Sleep(pageSettle)},
			{"remove overlays", removeOverlays()},
			{"wait export", waitFor("#export_btn", elementTimeout)},
			{"scroll export", chromedp.ScrollIntoView("#export_btn", chromedp.ByQuery)},
			{"settle export", chromedp.Sleep(2 * time.Second)},
			{"export", clickFirst(elementTimeout, "#export_btn")},
		},
	}
}

func selectOption(text string) chromedp.Action {
	quoted := strconv.Quote(text)
	var selected bool
	return chromedp.Evaluate(fmt.Sprintf(selectSegmentScript, quoted, quoted), &selected)
}

func removeOverlays() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var removed int
		if err := chromedp.Evaluate(removeOverlaysScript, &removed).Do(ctx); err != nil {
			return err
		}
		logger.Debug("Removed overlays", zap.Int("count", removed))
		return nil
	})
}

func waitFor(selector string, timeout time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := chromedp.WaitReady(selector, chromedp.ByQuery).Do(waitCtx); err != nil {
			return fmt.Errorf("%s not found within %s: %w", selector, timeout, err)
		}
		return nil
	})
}

// clickFirst waits for each selector in turn and clicks the first one present.
// Clicks go through JavaScript so overlays cannot intercept them.
func clickFirst(timeout time.Duration, selectors ...string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var lastErr error
		for _, sel := range selectors {
			if err := waitFor(sel, timeout).Do(ctx); err != nil {
				lastErr = err
				if ctx.Err() != nil {
					return err
				}
				continue
			}

			var clicked bool
			if err := chromedp.Evaluate(fmt.Sprintf(clickScript, strconv.Quote(sel)), &clicked).Do(ctx); err != nil {
				return fmt.Errorf("failed to click %s: %w", sel, err)
			}
			if clicked {
				return nil
			}
			lastErr = fmt.Errorf("%s disappeared before click", sel)
		}
		return lastErr
	})
}
