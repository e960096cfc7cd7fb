package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reDecimal = regexp.MustCompile(`^-?\d+(\.\d{1,2})?$`)
	reQty     = regexp.MustCompile(`^\d+$`)
	optMoney  = []string{"subtotal", "tax"} // optional only; total stays strict
)

// SanitizeOptionalFields removes or normalizes optional fields that don't
// meet our stricter schema, so the overall document can still validate.
// We only touch OPTIONALS.
func SanitizeOptionalFields(doc []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, err
	}

	var dropped []string

	// currency_code: required to be 3 letters if present; normalize casing,
	// drop anything else.
	if v, ok := m["currency_code"].(string); ok {
		s := strings.ToUpper(strings.TrimSpace(v))
		if len(s) != 3 {
			delete(m, "currency_code")
			dropped = append(dropped, "currency_code")
		} else {
			m["currency_code"] = s
		}
	}

	// registration_number: strip separators the service sometimes echoes.
	if v, ok := m["registration_number"].(string); ok {
		s := strings.TrimSpace(v)
		if s == "" {
			delete(m, "registration_number")
			dropped = append(dropped, "registration_number")
		} else {
			m["registration_number"] = s
		}
	}

	for _, k := range optMoney {
		if v, ok := m[k]; ok {
			norm, keep := normalizeMoney(v)
			if !keep {
				delete(m, k)
				dropped = append(dropped, k)
				continue
			}
			m[k] = norm
		}
	}

	// line_items: drop rows that cannot be normalized rather than failing
	// the whole payload.
	if items, ok := m["line_items"].([]any); ok {
		var kept []any
		for _, it := range items {
			row, ok := it.(map[string]any)
			if !ok {
				continue
			}
			name, _ := row["name"].(string)
			if strings.TrimSpace(name) == "" {
				continue
			}
			if q, ok := row["quantity"]; ok {
				if s := normalizeQuantity(q); s != "" {
					row["quantity"] = s
				} else {
					delete(row, "quantity")
				}
			}
			for _, mk := range []string{"unit_price", "total"} {
				if v, ok := row[mk]; ok {
					if norm, keep := normalizeMoney(v); keep {
						row[mk] = norm
					} else {
						delete(row, mk)
					}
				}
			}
			kept = append(kept, row)
		}
		if len(kept) == 0 {
			delete(m, "line_items")
			dropped = append(dropped, "line_items")
		} else {
			m["line_items"] = kept
		}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, nil, err
	}
	return b, dropped, nil
}

// normalizeMoney coerces a value into a two-decimal string, or reports that
// it should be dropped.
func normalizeMoney(v any) (string, bool) {
	switch t := v.(type) {
	case float64:
		return fmt.Sprintf("%.2f", t), true
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		if s == "" || strings.EqualFold(s, "null") {
			return "", false
		}
		if reDecimal.MatchString(s) {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return fmt.Sprintf("%.2f", f), true
			}
			return s, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fmt.Sprintf("%.2f", f), true
		}
		return "", false
	default:
		return "", false
	}
}

func normalizeQuantity(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.Itoa(int(t))
	case string:
		s := strings.TrimSpace(t)
		if reQty.MatchString(s) {
			return s
		}
	}
	return ""
}
