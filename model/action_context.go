package model

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// humanDateLayouts are tried in order after RFC 3339. Layouts without a zone
// are interpreted as UTC.
var humanDateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"01/02/2006 15:04",
	"01/02/2006",
	"Jan 2, 2006 at 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006",
	"January 2, 2006",
	"Mon, Jan 2, 2006",
	"2 Jan 2006",
}

// ParseDate parses s as RFC 3339 first and then as each supported human
// format. It returns false when no format matches.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, l := range humanDateLayouts {
		if t, err := time.ParseInLocation(l, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ActionContext is the read-only bag of values available to one action
// invocation: the card's context merged with the action's payload. Every
// accessor is total; missing or mistyped values yield the zero value and
// false, or the supplied fallback.
type ActionContext struct {
	card   Card
	values map[string]Value
}

// NewActionContext merges the card's context with payload. Payload values
// replace card values with the same key.
func NewActionContext(card Card, payload map[string]Value) ActionContext {
	values := make(map[string]Value, len(card.Context)+len(payload))
	for k, v := range card.Context {
		values[k] = v
	}
	for k, v := range payload {
		values[k] = v
	}
	card.Context = nil
	return ActionContext{card: card, values: values}
}

// With returns a copy of c with key set to v.
func (c ActionContext) With(key string, v Value) ActionContext {
	values := make(map[string]Value, len(c.values)+1)
	for k, existing := range c.values {
		values[k] = existing
	}
	values[key] = v
	return ActionContext{card: c.card, values: values}
}

// Card returns the card the context was built from, without its raw context
// bag.
func (c ActionContext) Card() Card { return c.card }

// Len returns the number of keys in the context.
func (c ActionContext) Len() int { return len(c.values) }

// Keys returns the context keys in lexical order.
func (c ActionContext) Keys() []string { return sortedKeys(c.values) }

// Value returns the raw value for key.
func (c ActionContext) Value(key string) (Value, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Values returns a copy of the whole bag.
func (c ActionContext) Values() map[string]Value {
	out := make(map[string]Value, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Has reports whether key is present: it exists, is not null and, for
// strings, is not blank.
func (c ActionContext) Has(key string) bool {
	v, ok := c.values[key]
	if !ok || v.IsNull() {
		return false
	}
	if s, isStr := v.AsString(); isStr {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// String returns the value for key as text, or fallback when the key is not
// present. Numbers and booleans are rendered as text.
func (c ActionContext) String(key, fallback string) string {
	if !c.Has(key) {
		return fallback
	}
	v := c.values[key]
	switch v.Kind() {
	case KindString, KindNumber, KindBool, KindTime:
		return v.Text()
	default:
		return fallback
	}
}

// Int returns the value for key as an integer. Strings are parsed; fractional
// numbers are rejected.
func (c ActionContext) Int(key string) (int, bool) {
	f, ok := c.Float(key)
	if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int(f), true
}

// Float returns the value for key as a float64. Strings are parsed.
func (c ActionContext) Float(key string) (float64, bool) {
	if !c.Has(key) {
		return 0, false
	}
	v := c.values[key]
	if n, ok := v.AsNumber(); ok {
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	}
	if s, ok := v.AsString(); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Bool returns the value for key as a boolean. The strings true/false,
// yes/no and 1/0 are accepted.
func (c ActionContext) Bool(key string) (bool, bool) {
	if !c.Has(key) {
		return false, false
	}
	v := c.values[key]
	if b, ok := v.AsBool(); ok {
		return b, true
	}
	if s, ok := v.AsString(); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
	}
	return false, false
}

// Time returns the value for key as a timestamp. Time values are returned as
// is, numbers are Unix seconds and strings are parsed with ParseDate.
func (c ActionContext) Time(key string) (time.Time, bool) {
	if !c.Has(key) {
		return time.Time{}, false
	}
	v := c.values[key]
	switch v.Kind() {
	case KindTime:
		return v.AsTime()
	case KindNumber:
		n, _ := v.AsNumber()
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return time.Time{}, false
		}
		sec, frac := math.Modf(n)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	case KindString:
		s, _ := v.AsString()
		return ParseDate(s)
	}
	return time.Time{}, false
}

// List returns the value for key as a list.
func (c ActionContext) List(key string) ([]Value, bool) {
	v, ok := c.values[key]
	if !ok {
		return nil, false
	}
	return v.AsList()
}

// Map returns the value for key as a nested map.
func (c ActionContext) Map(key string) (map[string]Value, bool) {
	v, ok := c.values[key]
	if !ok {
		return nil, false
	}
	return v.AsMap()
}

// Validate reports which of required are not present, in the order given.
func (c ActionContext) Validate(required []string) ValidationResult {
	var missing []string
	for _, key := range required {
		if !c.Has(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return ValidationResult{Valid: true, MissingKeys: []string{}}
	}
	return ValidationResult{
		Valid:       false,
		MissingKeys: missing,
		Error:       "missing required context: " + strings.Join(missing, ", "),
	}
}

// TrackingNumber returns the parcel tracking number.
func (c ActionContext) TrackingNumber() string { return c.String("trackingNumber", "") }

// Carrier returns the shipping carrier name.
func (c ActionContext) Carrier() string { return c.String("carrier", "") }

// Merchant returns the merchant name.
func (c ActionContext) Merchant() string { return c.String("merchant", "") }

// InvoiceID returns the invoice identifier.
func (c ActionContext) InvoiceID() string { return c.String("invoiceId", "") }

// FlightNumber returns the flight number.
func (c ActionContext) FlightNumber() string { return c.String("flightNumber", "") }

// Airline returns the airline name.
func (c ActionContext) Airline() string { return c.String("airline", "") }

// EventTitle returns the event title, falling back to the card subject.
func (c ActionContext) EventTitle() string { return c.String("eventTitle", c.card.Subject) }

// Location returns the event or venue location.
func (c ActionContext) Location() string { return c.String("location", "") }

// Phone returns the phone number.
func (c ActionContext) Phone() string { return c.String("phone", "") }

// DepartureTime returns the flight departure time.
func (c ActionContext) DepartureTime() (time.Time, bool) { return c.Time("departureTime") }

// EventTime returns the event start, read from eventDate or eventTime.
func (c ActionContext) EventTime() (time.Time, bool) {
	if t, ok := c.Time("eventDate"); ok {
		return t, true
	}
	return c.Time("eventTime")
}

// URL returns the first present of url, link and deepLink.
func (c ActionContext) URL() string {
	for _, key := range []string{"url", "link", "deepLink"} {
		if c.Has(key) {
			return c.String(key, "")
		}
	}
	return ""
}

// PaymentAmount returns the amount due. Currency strings such as "$1,234.50"
// or "USD 10" are accepted.
func (c ActionContext) PaymentAmount() (float64, bool) {
	for _, key := range []string{"amount", "paymentAmount"} {
		if !c.Has(key) {
			continue
		}
		v := c.values[key]
		if n, ok := v.AsNumber(); ok {
			return n, true
		}
		if s, ok := v.AsString(); ok {
			if n, ok := ParseAmount(s); ok {
				return n, true
			}
		}
	}
	return 0, false
}

// ParseAmount extracts the decimal amount from a currency string such as
// "USD 1,234.50" or "-$3". Commas group thousands. Text holding a second
// number, or separators that could be read either way ("1.234,56"), is
// rejected.
func ParseAmount(s string) (float64, bool) {
	start := strings.IndexFunc(s, isDigit)
	if start < 0 {
		return 0, false
	}
	if start > 0 && s[start-1] == '.' {
		start--
	}
	end := start
	for end < len(s) && (isDigit(rune(s[end])) || s[end] == ',' || s[end] == '.') {
		end++
	}
	run := strings.TrimRight(s[start:end], ",.")
	if strings.IndexFunc(s[start+len(run):], isDigit) >= 0 {
		return 0, false
	}

	whole, frac, _ := strings.Cut(run, ".")
	if strings.ContainsAny(frac, ".,") {
		return 0, false
	}
	if strings.Contains(whole, ",") {
		groups := strings.Split(whole, ",")
		if len(groups[0]) == 0 || len(groups[0]) > 3 {
			return 0, false
		}
		for _, g := range groups[1:] {
			if len(g) != 3 {
				return 0, false
			}
		}
	}

	n, err := strconv.ParseFloat(strings.ReplaceAll(run, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	if prefix := strings.TrimSpace(s[:start]); strings.HasPrefix(prefix, "-") || strings.HasSuffix(prefix, "-") {
		n = -n
	}
	return n, true
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
