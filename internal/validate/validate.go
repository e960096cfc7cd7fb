// Package validate holds the acceptance policy for extracted receipt
// fields. Validation is a pure function of its inputs: identical fields and
// options always produce the identical verdict and reason list.
package validate

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

// Rule identifiers, stable across releases; they end up in
// validation_reasons and on review tickets verbatim.
const (
	RuleMissingRequired     = "missing_required_field"
	RuleMalformedDate       = "malformed_date"
	RuleMalformedAmount     = "malformed_amount"
	RuleAmountOutOfBounds   = "amount_out_of_bounds"
	RuleDateInFuture        = "date_in_future"
	RuleUnknownCurrency     = "unknown_currency"
	RuleMissingRegistration = "missing_registration_number"
	RuleLineSumMismatch     = "line_sum_mismatch"
)

const dateLayout = "2006-01-02"

// Options tunes the soft rules. Today anchors the future-date check so the
// validator stays deterministic under test.
type Options struct {
	Tolerance         float64
	MaxPlausibleTotal float64
	Today             time.Time
	// RequireRegistration escalates receipts that lack an invoice
	// registration number; used by profiles that file for tax credit.
	RequireRegistration bool
}

// Result is the validator's verdict plus every violated rule in evaluation
// order.
type Result struct {
	Decision constants.Verdict
	Reasons  []entity.Reason
}

// recognizedCurrencies is the ISO 4217 subset the business accepts.
var recognizedCurrencies = map[string]struct{}{
	"JPY": {}, "USD": {}, "EUR": {}, "GBP": {}, "AUD": {}, "CAD": {},
	"CHF": {}, "CNY": {}, "HKD": {}, "KRW": {}, "SGD": {}, "TWD": {},
}

// Validate evaluates the hard rules (schema: required fields and formats)
// and then the soft sanity rules. Any hard failure rejects; otherwise any
// soft failure escalates to review; otherwise the fields are accepted.
func Validate(f *entity.Fields, opts Options) Result {
	if f == nil {
		f = &entity.Fields{}
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 0.01
	}
	if opts.MaxPlausibleTotal <= 0 {
		opts.MaxPlausibleTotal = 1_000_000
	}
	today := opts.Today
	if today.IsZero() {
		today = time.Now().UTC()
	}

	var hard, soft []entity.Reason

	// Hard: required fields present.
	for _, req := range []struct{ name, value string }{
		{"vendor", f.Vendor},
		{"tx_date", f.TxDate},
		{"total", f.Total},
	} {
		if req.value == "" {
			hard = append(hard, entity.Reason{
				Rule:    RuleMissingRequired + ":" + req.name,
				Message: fmt.Sprintf("required field %q is missing", req.name),
			})
		}
	}

	// Hard: formats of present required fields.
	var txDate time.Time
	if f.TxDate != "" {
		var err error
		if txDate, err = time.Parse(dateLayout, f.TxDate); err != nil {
			hard = append(hard, entity.Reason{
				Rule:    RuleMalformedDate,
				Message: fmt.Sprintf("tx_date %q is not a YYYY-MM-DD date", f.TxDate),
			})
		}
	}
	var total decimal.Decimal
	totalOK := false
	if f.Total != "" {
		var err error
		if total, err = decimal.NewFromString(f.Total); err != nil {
			hard = append(hard, entity.Reason{
				Rule:    RuleMalformedAmount,
				Message: fmt.Sprintf("total %q is not a decimal amount", f.Total),
			})
		} else {
			totalOK = true
		}
	}

	// Soft: sanity checks.
	if totalOK {
		maxTotal := decimal.NewFromFloat(opts.MaxPlausibleTotal)
		if total.LessThanOrEqual(decimal.Zero) || total.GreaterThan(maxTotal) {
			soft = append(soft, entity.Reason{
				Rule:    RuleAmountOutOfBounds,
				Message: fmt.Sprintf("total %s outside plausible range (0, %s]", total, maxTotal),
			})
		}
	}
	if !txDate.IsZero() && txDate.After(today) {
		soft = append(soft, entity.Reason{
			Rule:    RuleDateInFuture,
			Message: fmt.Sprintf("tx_date %s is in the future", f.TxDate),
		})
	}
	if f.CurrencyCode != "" {
		if _, ok := recognizedCurrencies[f.CurrencyCode]; !ok {
			soft = append(soft, entity.Reason{
				Rule:    RuleUnknownCurrency,
				Message: fmt.Sprintf("currency %q is not recognized", f.CurrencyCode),
			})
		}
	}
	if opts.RequireRegistration && f.RegistrationNumber == "" {
		soft = append(soft, entity.Reason{
			Rule:    RuleMissingRegistration,
			Message: "invoice registration number is missing",
		})
	}
	if reason := checkLineSum(f, total, totalOK, opts.Tolerance); reason != nil {
		soft = append(soft, *reason)
	}

	switch {
	case len(hard) > 0:
		return Result{Decision: constants.VerdictReject, Reasons: append(hard, soft...)}
	case len(soft) > 0:
		return Result{Decision: constants.VerdictNeedsReview, Reasons: soft}
	default:
		return Result{Decision: constants.VerdictAccept}
	}
}

// checkLineSum compares the itemization sum against the subtotal when one
// is present, else the total. Items without amounts opt the receipt out of
// the check rather than failing it.
func checkLineSum(f *entity.Fields, total decimal.Decimal, totalOK bool, tolerance float64) *entity.Reason {
	if len(f.LineItems) == 0 {
		return nil
	}

	sum := decimal.Zero
	for _, item := range f.LineItems {
		if item.Total == "" {
			return nil
		}
		v, err := decimal.NewFromString(item.Total)
		if err != nil {
			return nil
		}
		sum = sum.Add(v)
	}

	expected := total
	if f.Subtotal != "" {
		if v, err := decimal.NewFromString(f.Subtotal); err == nil {
			expected = v
		}
	} else if !totalOK {
		return nil
	}

	if sum.Sub(expected).Abs().GreaterThan(decimal.NewFromFloat(tolerance)) {
		return &entity.Reason{
			Rule:    RuleLineSumMismatch,
			Message: fmt.Sprintf("line items sum to %s but expected %s", sum, expected),
		}
	}
	return nil
}
