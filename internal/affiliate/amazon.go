package affiliate

import (
	"context"
	"fmt"
	"regexp"

	"github.com/sirupsen/logrus"
)

// amazonDomains covers the storefront plus the amzn.to shortener.
var amazonDomains = []*regexp.Regexp{
	regexp.MustCompile(`amazon\.com\.br`),
	regexp.MustCompile(`amazon\.com`),
	regexp.MustCompile(`amzn\.to`),
}

// asinPatterns match the 10-character product identifier in its known path
// forms, most specific first.
var asinPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/dp/([A-Z0-9]{10})`),
	regexp.MustCompile(`/gp/product/([A-Z0-9]{10})`),
	regexp.MustCompile(`/ASIN/([A-Z0-9]{10})`),
}

// AmazonConverter rewrites product URLs into tagged short links. It is pure:
// no network, no session, no state beyond the tag fixed at construction.
type AmazonConverter struct {
	tag Tag
	log logrus.FieldLogger
}

// NewAmazonConverter validates the associate tag and builds the converter.
// A malformed tag is a configuration error and fails construction.
func NewAmazonConverter(tag string, logger logrus.FieldLogger) (*AmazonConverter, error) {
	parsed, err := ParseTag(tag)
	if err != nil {
		return nil, fmt.Errorf("amazon converter: %w", err)
	}
	log := logger.WithField("component", "amazon_converter")
	log.WithField("tag", tag).Info("Amazon converter initialized")
	return &AmazonConverter{tag: parsed, log: log}, nil
}

func (c *AmazonConverter) Marketplace() string {
	return "amazon"
}

// Validate reports whether the URL is an Amazon product URL with an
// extractable ASIN.
func (c *AmazonConverter) Validate(url string) bool {
	return c.isAmazonLink(url) && c.extractASIN(url) != ""
}

// Convert rebuilds the canonical short form with the associate tag attached.
// Converting an already-converted link re-extracts the same ASIN, so the
// operation is idempotent.
func (c *AmazonConverter) Convert(_ context.Context, url string) (string, error) {
	if !c.isAmazonLink(url) {
		return "", newError(KindInvalidLink, c.Marketplace(), fmt.Sprintf("not an Amazon URL: %s", url))
	}

	asin := c.extractASIN(url)
	if asin == "" {
		return "", newError(KindInvalidLink, c.Marketplace(), fmt.Sprintf("no ASIN found in %s", url))
	}

	converted := fmt.Sprintf("https://amazon.com.br/dp/%s?tag=%s", asin, c.tag)
	c.log.WithFields(logrus.Fields{
		"asin": asin,
		"link": converted,
	}).Debug("Amazon link converted")
	return converted, nil
}

func (c *AmazonConverter) isAmazonLink(url string) bool {
	for _, pattern := range amazonDomains {
		if pattern.MatchString(url) {
			return true
		}
	}
	return false
}

// extractASIN prefers the rightmost match of the most specific pattern, so a
// marketing query parameter that happens to contain a 10-character token
// never shadows the real path identifier.
func (c *AmazonConverter) extractASIN(url string) string {
	for _, pattern := range asinPatterns {
		matches := pattern.FindAllStringSubmatch(url, -1)
		if len(matches) > 0 {
			return matches[len(matches)-1][1]
		}
	}
	return ""
}
