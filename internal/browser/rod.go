package browser

import (
	"context"
	"fmt"
	"log"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// imagePatterns is handed to the devtools request blocker when a load
// opts out of image fetching.
var imagePatterns = []string{"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico"}

// rodDriver owns one Chrome process shared by all pool sessions.
type rodDriver struct {
	browser *rod.Browser
}

func connectRod(cfg Config) (driver, error) {
	l := launcher.New().Headless(cfg.Headless)
	if cfg.BinPath != "" {
		l = l.Bin(cfg.BinPath)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	return &rodDriver{browser: b}, nil
}

// NewSession opens an isolated incognito page at about:blank.
func (d *rodDriver) NewSession(cfg Config) (sessionDriver, error) {
	incognito, err := d.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             1920,
		Height:            1080,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		log.Printf("[BrowserPool] warning: failed to set viewport: %v", err)
	}
	return &rodSession{page: page}, nil
}

func (d *rodDriver) Healthy() bool {
	_, err := d.browser.Version()
	return err == nil
}

func (d *rodDriver) Close() error {
	return d.browser.Close()
}

type rodSession struct {
	page *rod.Page
}

func (s *rodSession) Load(ctx context.Context, url string, opts LoadOptions) error {
	page := s.page.Context(ctx)

	if opts.DisableJS {
		if err := (proto.EmulationSetScriptExecutionDisabled{Value: true}).Call(page); err != nil {
			log.Printf("[BrowserPool] warning: failed to disable scripts: %v", err)
		}
	}
	if opts.BlockImages {
		if err := (proto.NetworkEnable{}).Call(page); err == nil {
			if err := (proto.NetworkSetBlockedURLs{Urls: imagePatterns}).Call(page); err != nil {
				log.Printf("[BrowserPool] warning: failed to block images: %v", err)
			}
		}
	}

	timed := page.Timeout(opts.Timeout)
	if err := timed.Navigate(url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := timed.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}
	if opts.WaitIdle > 0 {
		if err := page.WaitIdle(opts.WaitIdle); err != nil {
			// Idle is a hint; a busy page is still readable.
			log.Printf("[BrowserPool] page did not settle within %s: %v", opts.WaitIdle, err)
		}
	}
	return nil
}

func (s *rodSession) HTML() (string, error) {
	return s.page.HTML()
}

func (s *rodSession) Healthy() bool {
	_, err := s.page.Info()
	return err == nil
}

func (s *rodSession) Close() error {
	return s.page.Close()
}
