package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// OrderDateLayout is the Go layout of an order date (YYYYMMDD).
	OrderDateLayout = "20060102"
	// MaxOrderNumber is the largest order number issued per merchant per day.
	MaxOrderNumber = 9999
)

var (
	slugPattern      = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)
	orderDatePattern = regexp.MustCompile(`^[0-9]{8}$`)
	orderNumPattern  = regexp.MustCompile(`^[0-9]{4}$`)

	ErrInvalidLinkID = errors.New("invalid link id")
)

// LinkID is the parsed form of "{slug}/{YYYYMMDD}/{NNNN}".
type LinkID struct {
	Slug        string
	OrderDate   string
	OrderNumber int
}

// String renders the canonical link id.
func (l LinkID) String() string {
	return BuildLinkID(l.Slug, l.OrderDate, l.OrderNumber)
}

// BuildLinkID formats the public identifier of a payment request.
func BuildLinkID(slug, orderDate string, orderNumber int) string {
	return fmt.Sprintf("%s/%s/%04d", slug, orderDate, orderNumber)
}

// ParseLinkID is the inverse of BuildLinkID.
func ParseLinkID(s string) (LinkID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return LinkID{}, fmt.Errorf("%w: expected slug/date/number", ErrInvalidLinkID)
	}
	return ParseLinkParts(parts[0], parts[1], parts[2])
}

// ParseLinkParts validates the three path segments of a link id.
func ParseLinkParts(slug, orderDate, orderNumber string) (LinkID, error) {
	if !ValidSlug(slug) {
		return LinkID{}, fmt.Errorf("%w: bad slug %q", ErrInvalidLinkID, slug)
	}
	if !ValidOrderDate(orderDate) {
		return LinkID{}, fmt.Errorf("%w: bad order date %q", ErrInvalidLinkID, orderDate)
	}
	if !orderNumPattern.MatchString(orderNumber) {
		return LinkID{}, fmt.Errorf("%w: bad order number %q", ErrInvalidLinkID, orderNumber)
	}
	n, _ := strconv.Atoi(orderNumber)
	if n < 1 || n > MaxOrderNumber {
		return LinkID{}, fmt.Errorf("%w: order number %d out of range", ErrInvalidLinkID, n)
	}
	return LinkID{Slug: slug, OrderDate: orderDate, OrderNumber: n}, nil
}

// ValidSlug reports whether s is a well-formed merchant slug.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}

// ValidOrderDate reports whether s is a real calendar date in YYYYMMDD form.
func ValidOrderDate(s string) bool {
	if !orderDatePattern.MatchString(s) {
		return false
	}
	_, err := time.Parse(OrderDateLayout, s)
	return err == nil
}
