package scraper

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"promoengine/internal/credential"
)

// csrfPages are tried in order; the token meta tag is injected by page
// scripts and is not always present on every host.
var csrfPages = []string{
	"https://produto.mercadolivre.com.br/",
	"https://www.mercadolivre.com.br/",
}

// productLinkSelectors locate the product anchor on an affiliate share page,
// most specific first.
var productLinkSelectors = []string{
	`a[href*="produto.mercadolivre.com.br/MLB-"]`,
	`a[href*="/MLB-"]`,
	`a[href*="MLB"]`,
}

var productIDPattern = regexp.MustCompile(`MLB-?\d+`)

const pageTimeout = 30 * time.Second

// RodSession implements the Session interface using the rod library.
type RodSession struct {
	log logrus.FieldLogger
}

// NewRodSession creates a new browser session service.
func NewRodSession(logger logrus.FieldLogger) *RodSession {
	return &RodSession{
		log: logger.WithField("component", "browser_session"),
	}
}

// connect launches a fresh headless browser. The caller must close it.
func (s *RodSession) connect() (*rod.Browser, error) {
	path, exists := launcher.LookPath()
	if !exists {
		s.log.Error("Cannot find browser executable for rod")
		return nil, errors.New("rod browser dependency not found")
	}
	u := launcher.New().Bin(path).MustLaunch()
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		s.log.WithError(err).Error("Failed to connect to rod browser")
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	return browser, nil
}

// CSRFToken navigates a Mercado Livre page with the session cookies attached
// and reads the csrf-token meta tag.
func (s *RodSession) CSRFToken(ctx context.Context, cookies []credential.Cookie) (token string, err error) {
	log := s.log.WithField("operation", "csrf_token")

	browser, err := s.connect()
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := browser.Close(); closeErr != nil {
			log.WithError(closeErr).Error("Error closing rod browser instance")
			if err == nil {
				err = fmt.Errorf("error closing browser: %w", closeErr)
			}
		}
	}()

	if err := browser.SetCookies(cookieParams(cookies)); err != nil {
		return "", fmt.Errorf("failed to set session cookies: %w", err)
	}

	var page *rod.Page
	page, err = browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("failed to create page: %w", err)
	}
	pageCtx, cancel := context.WithTimeout(ctx, pageTimeout)
	defer cancel()
	page = page.Context(pageCtx)

	for _, url := range csrfPages {
		if err := page.Navigate(url); err != nil {
			log.WithError(err).WithField("url", url).Warn("Failed to navigate to CSRF page")
			continue
		}
		if err := page.WaitLoad(); err != nil {
			if errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("csrf extraction timed out: %w", pageCtx.Err())
			}
			log.WithError(err).WithField("url", url).Warn("Failed to wait for page load")
			continue
		}

		meta, err := page.Element(`meta[name="csrf-token"]`)
		if err != nil {
			log.WithField("url", url).Warn("csrf-token meta tag not found, trying next page")
			continue
		}
		content, err := meta.Attribute("content")
		if err != nil || content == nil || strings.TrimSpace(*content) == "" {
			log.WithField("url", url).Warn("csrf-token meta tag has no content")
			continue
		}
		log.WithField("url", url).Debug("Extracted CSRF token")
		return strings.TrimSpace(*content), nil
	}

	return "", errors.New("csrf token not found on any marketplace page; session cookies may be invalid")
}

// ResolveProductLink opens an affiliate share page and extracts the real
// product URL carrying an MLB code.
func (s *RodSession) ResolveProductLink(ctx context.Context, affiliateURL string) (link string, err error) {
	log := s.log.WithField("url", affiliateURL)
	log.Info("Resolving product link from affiliate page")

	browser, err := s.connect()
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := browser.Close(); closeErr != nil {
			log.WithError(closeErr).Error("Error closing rod browser instance")
			if err == nil {
				err = fmt.Errorf("error closing browser: %w", closeErr)
			}
		}
	}()

	var page *rod.Page
	page, err = browser.Page(proto.TargetCreateTarget{URL: affiliateURL})
	if err != nil {
		return "", fmt.Errorf("failed to create page: %w", err)
	}
	pageCtx, cancel := context.WithTimeout(ctx, pageTimeout)
	defer cancel()
	page = page.Context(pageCtx)

	if err := page.WaitLoad(); err != nil {
		if errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("affiliate page load timed out for %s: %w", affiliateURL, pageCtx.Err())
		}
		return "", fmt.Errorf("failed waiting for affiliate page load: %w", err)
	}

	for _, selector := range productLinkSelectors {
		anchor, err := page.Element(selector)
		if err != nil {
			continue
		}
		href, err := anchor.Attribute("href")
		if err != nil || href == nil {
			continue
		}
		if productIDPattern.MatchString(*href) {
			log.WithField("product_link", *href).Info("Product link resolved")
			return *href, nil
		}
	}

	return "", fmt.Errorf("no product link found on affiliate page %s", affiliateURL)
}

func cookieParams(cookies []credential.Cookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, ck := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Secure:   ck.Secure,
			HTTPOnly: ck.HTTPOnly,
		})
	}
	return params
}
