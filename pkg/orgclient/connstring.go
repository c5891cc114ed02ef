package orgclient

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ConnectionString is the parsed form of "Url=...;Token=...;Timeout=30".
type ConnectionString struct {
	URL        *url.URL
	Token      string
	Timeout    time.Duration
	APIVersion string
}

var ErrMissingURL = errors.New("connection string: Url is required")

// ParseConnectionString accepts semicolon separated Key=Value pairs. Keys are
// case-insensitive; unknown keys are ignored.
func ParseConnectionString(s string) (ConnectionString, error) {
	cs := ConnectionString{Timeout: 2 * time.Minute, APIVersion: "v9.2"}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return ConnectionString{}, fmt.Errorf("connection string: malformed segment %q", part)
		}
		v = strings.Trim(strings.TrimSpace(v), `"'`)
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "url", "serviceuri", "server":
			u, err := url.Parse(v)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return ConnectionString{}, fmt.Errorf("connection string: invalid Url %q", v)
			}
			cs.URL = u
		case "token", "accesstoken":
			cs.Token = v
		case "timeout":
			sec, err := strconv.Atoi(v)
			if err != nil || sec <= 0 {
				return ConnectionString{}, fmt.Errorf("connection string: invalid Timeout %q", v)
			}
			cs.Timeout = time.Duration(sec) * time.Second
		case "apiversion":
			cs.APIVersion = v
		}
	}
	if cs.URL == nil {
		return ConnectionString{}, ErrMissingURL
	}
	return cs, nil
}

// String renders the connection string with the token redacted.
func (cs ConnectionString) String() string {
	var b strings.Builder
	if cs.URL != nil {
		b.WriteString("Url=" + cs.URL.String() + ";")
	}
	if cs.Token != "" {
		b.WriteString("Token=***;")
	}
	fmt.Fprintf(&b, "Timeout=%d", int(cs.Timeout/time.Second))
	return b.String()
}
