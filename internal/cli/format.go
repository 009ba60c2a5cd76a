// Package cli provides formatting and rendering utilities for terminal output.
package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var currencySymbols = map[string]string{
	"USD": "$",
	"CAD": "$",
	"AUD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
}

// FormatMoney formats an amount in major units with two decimals.
// See FormatAmount.
func FormatMoney(amount decimal.Decimal, currency string) string {
	return FormatAmount(amount, currency, 2)
}

// FormatAmount formats an amount in major units rounded to digits decimals,
// with thousands separators and the currency symbol when one is known,
// e.g. -1234.5 USD 2 -> "-$1,234.50".
func FormatAmount(amount decimal.Decimal, currency string, digits int) string {
	if digits < 0 {
		digits = 0
	}
	amount = amount.Round(int32(digits))
	sign := ""
	if amount.IsNegative() {
		sign = "-"
		amount = amount.Neg()
	}

	whole, frac, _ := strings.Cut(amount.StringFixed(int32(digits)), ".")
	n, err := strconv.ParseInt(whole, 10, 64)
	if err == nil {
		whole = FormatNumber(n)
	}
	body := whole
	if frac != "" {
		body += "." + frac
	}

	if sym, ok := currencySymbols[strings.ToUpper(currency)]; ok {
		return sign + sym + body
	}
	if currency == "" {
		return sign + body
	}
	return sign + body + " " + currency
}

// FormatNumber adds comma separators to an integer.
// e.g., 1234567 -> "1,234,567"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}

	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	head := len(s) % 3
	if head > 0 {
		result.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// FormatAge renders an age-of-money value, which the API may omit.
func FormatAge(days *int) string {
	if days == nil {
		return "n/a"
	}
	if *days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", *days)
}

// FormatAgo formats the time elapsed between t and now.
// e.g., 3725s -> "1h 2m ago", 45s -> "45s ago"
func FormatAgo(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	secs := int64(now.Sub(t).Seconds())
	if secs <= 0 {
		return "just now"
	}

	hours := secs / 3600
	mins := (secs % 3600) / 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm ago", hours, mins)
	case mins > 0:
		return fmt.Sprintf("%dm ago", mins)
	default:
		return fmt.Sprintf("%ds ago", secs)
	}
}

// FormatMonth turns an API month key like "2026-10-01" into "October 2026".
func FormatMonth(key string) string {
	t, err := time.Parse("2006-01-02", key)
	if err != nil {
		return key
	}
	return t.Format("January 2006")
}
