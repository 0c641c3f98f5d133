package dto

import (
	"reflect"
	"regexp"
	"strings"

	"payment-link-gateway/internal/core/domain"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	currencyRe       = regexp.MustCompile(`^[A-Z]{3}$`)
	idempotencyKeyRe = regexp.MustCompile(`^[a-zA-Z0-9_\-\.:]{1,128}$`)
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("currency_code", validateCurrencyCode)
		_ = v.RegisterValidation("merchant_slug", validateMerchantSlug)
		_ = v.RegisterValidation("order_date", validateOrderDate)
		_ = v.RegisterValidation("settlement_status", validateSettlementStatus)
		_ = v.RegisterValidation("link_id", validateLinkID)
	}
}

// validateCurrencyCode accepts three upper-case letters (ISO 4217 shape).
func validateCurrencyCode(fl validator.FieldLevel) bool {
	return currencyRe.MatchString(fl.Field().String())
}

func validateMerchantSlug(fl validator.FieldLevel) bool {
	return domain.ValidSlug(fl.Field().String())
}

func validateOrderDate(fl validator.FieldLevel) bool {
	return domain.ValidOrderDate(fl.Field().String())
}

func validateSettlementStatus(fl validator.FieldLevel) bool {
	return domain.SettlementStatus(fl.Field().String()).IsValid()
}

func validateLinkID(fl validator.FieldLevel) bool {
	_, err := domain.ParseLinkID(fl.Field().String())
	return err == nil
}

// ValidIdempotencyKey checks the Idempotency-Key header format.
func ValidIdempotencyKey(key string) bool {
	return idempotencyKeyRe.MatchString(key)
}

// SanitizeStruct trims whitespace from every exported string field (including
// *string) of a struct pointer. Text is stored as entered; responses escape it
// on the way out, so the stored length is the length that was validated.
func SanitizeStruct(v interface{}) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return
	}
	sanitizeFields(rv.Elem())
}

func sanitizeFields(rv reflect.Value) {
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if !f.CanSet() {
			continue
		}
		switch f.Kind() {
		case reflect.String:
			f.SetString(sanitize(f.String()))
		case reflect.Ptr:
			if f.IsNil() {
				continue
			}
			if elem := f.Elem(); elem.Kind() == reflect.String {
				elem.SetString(sanitize(elem.String()))
			}
		}
	}
}

func sanitize(s string) string {
	return strings.TrimSpace(s)
}
