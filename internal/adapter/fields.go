package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// idField accepts both JSON strings and numbers. Vendors disagree on
// whether user ids are numeric.
type idField string

func (f *idField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = idField(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", b)
	}
	*f = idField(n.String())
	return nil
}

// timeField holds either a JSON number or a string, decoded later by the
// vendor specific rule.
type timeField struct {
	set    bool
	number json.Number
	text   string
}

func (f *timeField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	f.set = true
	if b[0] == '"' {
		return json.Unmarshal(b, &f.text)
	}
	return json.Unmarshal(b, &f.number)
}

// wallClockLayout is a timestamp without zone, as sent by vendor clouds.
const wallClockLayout = "2006-01-02 15:04:05"

// epochMillisOrWallClock decodes numbers as epoch milliseconds and
// strings as zone-less wall clock time in loc.
func (f timeField) epochMillisOrWallClock(loc *time.Location) (time.Time, error) {
	if !f.set {
		return time.Time{}, fmt.Errorf("missing time")
	}
	if f.number != "" {
		ms, err := f.number.Int64()
		if err != nil {
			fl, ferr := f.number.Float64()
			if ferr != nil {
				return time.Time{}, fmt.Errorf("invalid epoch millis %q", f.number)
			}
			ms = int64(fl)
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	return parseTextTime(f.text, loc)
}

// epochSeconds decodes numbers as epoch seconds.
func (f timeField) epochSeconds(loc *time.Location) (time.Time, error) {
	if !f.set {
		return time.Time{}, fmt.Errorf("missing time")
	}
	if f.number != "" {
		if sec, err := f.number.Int64(); err == nil {
			return time.Unix(sec, 0).UTC(), nil
		}
		fl, err := f.number.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid epoch seconds %q", f.number)
		}
		return time.UnixMilli(int64(math.Round(fl * 1000))).UTC(), nil
	}
	return parseTextTime(f.text, loc)
}

func parseTextTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// Ten digits or fewer are seconds.
		if n < 1e11 {
			return time.Unix(n, 0).UTC(), nil
		}
		return time.UnixMilli(n).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation(wallClockLayout, s, loc); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// baseURL builds scheme://host:port for a device. Host may already carry
// a scheme.
func baseURL(scheme, host string, port int) (*url.URL, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("device has no host")
	}
	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err != nil {
			return nil, err
		}
		if port > 0 && u.Port() == "" {
			u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
		}
		return u, nil
	}
	if port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(port))
	}
	return &url.URL{Scheme: scheme, Host: host}, nil
}
