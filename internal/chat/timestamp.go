package chat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type timestampForm uint8

const (
	formNone timestampForm = iota
	formMillis
	formText
)

// Timestamp is a message time in whichever form the producer used: epoch
// milliseconds or an ISO-8601 string. The original form is kept so stored
// history re-encodes unchanged.
type Timestamp struct {
	form   timestampForm
	millis int64
	text   string // string form, or the number as written when it is not a plain integer
}

// TimestampMillis returns a timestamp in epoch-millisecond form.
func TimestampMillis(ms int64) Timestamp {
	return Timestamp{form: formMillis, millis: ms}
}

// TimestampText returns a timestamp in string form. The text is not parsed.
func TimestampText(s string) Timestamp {
	return Timestamp{form: formText, text: s}
}

// IsZero reports whether no timestamp was provided.
func (t Timestamp) IsZero() bool {
	return t.form == formNone
}

// Time converts the timestamp. ok is false when the timestamp is absent or the
// text form does not parse as RFC 3339.
func (t Timestamp) Time() (time.Time, bool) {
	switch t.form {
	case formMillis:
		return time.UnixMilli(t.millis).UTC(), true
	case formText:
		if ts, err := time.Parse(time.RFC3339Nano, t.text); err == nil {
			return ts, true
		}
		if ms, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
	}
	return time.Time{}, false
}

func (t Timestamp) String() string {
	switch t.form {
	case formMillis:
		if t.text != "" {
			return t.text
		}
		return strconv.FormatInt(t.millis, 10)
	case formText:
		return t.text
	}
	return ""
}

// MarshalJSON writes the timestamp back in its original form.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	switch t.form {
	case formMillis:
		if t.text != "" {
			return []byte(t.text), nil
		}
		return []byte(strconv.FormatInt(t.millis, 10)), nil
	case formText:
		return json.Marshal(t.text)
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts a JSON number (epoch millis) or a string.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = TimestampText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("chat: timestamp must be a number or a string: %s", data)
	}
	if ms, err := n.Int64(); err == nil {
		*t = TimestampMillis(ms)
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("chat: timestamp out of range: %s", data)
	}
	*t = Timestamp{form: formMillis, millis: int64(f), text: n.String()}
	return nil
}
