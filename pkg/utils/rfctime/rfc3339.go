// Package rfctime holds timestamps interchanged over the HTTP API and hooks.
package rfctime

import (
	"encoding/json"
	"time"
)

// Layout for formatting. Offsets are always numeric, like "+00:00", never "Z".
//
// Resolution is microseconds, as ChRIS clients expect.
const Layout = "2006-01-02T15:04:05.999999-07:00"

// RFC3339 is a date-time of RFC3339, marshalled into JSON strings with Layout.
//
// Parsing accepts any RFC3339 expression, including "Z".
type RFC3339 time.Time

func (t RFC3339) Time() time.Time {
	return time.Time(t)
}

// Equal reports whether both point the same instant. Nils are equal only to nil.
func (t *RFC3339) Equal(other *RFC3339) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.Time().Equal(other.Time())
}

func (t RFC3339) String() string {
	return time.Time(t).Format(Layout)
}

func Parse(s string) (RFC3339, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return RFC3339{}, err
	}
	return RFC3339(t), nil
}

func (t RFC3339) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON parses a JSON string. null leaves t untouched.
func (t *RFC3339) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
