package audit

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// os.open flag bits (Linux values; the audit producer runs on Linux).
const (
	oWRONLY = 0x0001
	oRDWR   = 0x0002
	oCREAT  = 0x0040
	oTRUNC  = 0x0200
	oAPPEND = 0x0400
)

var quotedRe = regexp.MustCompile(`'([^']*)'|"([^"]*)"`)
var intRe = regexp.MustCompile(`-?\d+`)
var urlRe = regexp.MustCompile(`(?i)(?:https?|wss?)://\S+`)

// stringArg returns the idx'th element of rec.Args as a string, preferring
// the literal parse and falling back to a positional regex scan of the raw
// text when the parse failed or didn't yield a string there.
func stringArg(rec Record, idx int) (string, bool) {
	if t, ok := rec.Parsed.(Tuple); ok && idx < len(t) {
		if s, ok2 := t[idx].(Str); ok2 {
			return string(s), true
		}
	}
	matches := quotedRe.FindAllStringSubmatch(rec.Args, -1)
	if idx < len(matches) {
		m := matches[idx]
		if m[1] != "" {
			return m[1], true
		}
		return m[2], true
	}
	return "", false
}

func intArg(rec Record, idx int) (int64, bool) {
	if t, ok := rec.Parsed.(Tuple); ok && idx < len(t) {
		if i, ok2 := t[idx].(Int); ok2 {
			return int64(i), true
		}
	}
	matches := intRe.FindAllString(rec.Args, -1)
	if idx < len(matches) {
		n, err := strconv.ParseInt(matches[idx], 10, 64)
		if err == nil {
			return n, true
		}
	}
	return 0, false
}

// ClassifyFileEvent reports the path and write/read direction of an "open"
// or "os.open" event. ok is false for any other event or when no path
// could be recovered.
func ClassifyFileEvent(rec Record) (path string, isWrite bool, ok bool) {
	switch rec.Event {
	case "open":
		path, ok = stringArg(rec, 0)
		if !ok {
			return "", false, false
		}
		mode, _ := stringArg(rec, 1)
		isWrite = strings.ContainsAny(mode, "waxA+")
		return path, isWrite, true
	case "os.open":
		path, ok = stringArg(rec, 0)
		if !ok {
			return "", false, false
		}
		if flags, ok2 := intArg(rec, 1); ok2 {
			isWrite = flags&(oWRONLY|oRDWR|oAPPEND|oCREAT|oTRUNC) != 0
		}
		return path, isWrite, true
	default:
		return "", false, false
	}
}

var networkFamilyPrefixes = []string{"socket.", "ssl.", "http.client."}
var networkSubstrings = []string{"connect", "sendto", "sendmsg", "bind", "listen", "urlopen"}

// IsNetworkEvent reports whether event belongs to a network-touching
// family or matches one of the known network-action substrings.
func IsNetworkEvent(event string) bool {
	for _, prefix := range networkFamilyPrefixes {
		if strings.HasPrefix(event, prefix) {
			return true
		}
	}
	for _, sub := range networkSubstrings {
		if strings.Contains(event, sub) {
			return true
		}
	}
	return false
}

// NetworkAction derives the short action label used in highlight entries.
func NetworkAction(event string) string {
	switch {
	case strings.Contains(event, "connect"):
		return "connect"
	case strings.Contains(event, "sendto"):
		return "sendto"
	case strings.Contains(event, "bind"):
		return "bind"
	case strings.Contains(event, "listen"):
		return "listen"
	case strings.Contains(event, "ssl") || strings.Contains(event, "tls"):
		return "tls"
	default:
		return "network"
	}
}

func isHostlike(s string) bool {
	if s == "" {
		return false
	}
	if strings.ContainsAny(s, " \t\n") {
		return false
	}
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "<") || strings.HasPrefix(s, "{") {
		return false
	}
	if s == "AF_INET" || s == "AF_INET6" {
		return false
	}
	return true
}

// findHostPort walks a parsed value looking for a (hostlike-string,
// int-port) pair, depth-first, preferring the first one found.
func findHostPort(v Value) (string, int64, bool) {
	t, ok := v.(Tuple)
	if !ok {
		return "", 0, false
	}
	if len(t) == 2 {
		if s, ok1 := t[0].(Str); ok1 {
			if p, ok2 := t[1].(Int); ok2 && isHostlike(string(s)) {
				return string(s), int64(p), true
			}
		}
	}
	for _, elem := range t {
		if h, p, ok := findHostPort(elem); ok {
			return h, p, true
		}
	}
	return "", 0, false
}

func urlHostPort(raw string) (string, bool) {
	m := urlRe.FindString(raw)
	if m == "" {
		return "", false
	}
	u, err := url.Parse(m)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "http", "ws":
			port = "80"
		case "https", "wss":
			port = "443"
		default:
			return "", false
		}
	}
	return u.Hostname() + ":" + port, true
}

// findURLHostPort walks the parsed value's string leaves for a URL,
// falling back to scanning the raw args text.
func findURLHostPort(v Value, raw string) (string, bool) {
	var found string
	var walk func(Value)
	walk = func(val Value) {
		if found != "" {
			return
		}
		switch t := val.(type) {
		case Str:
			if hp, ok := urlHostPort(string(t)); ok {
				found = hp
			}
		case Tuple:
			for _, e := range t {
				walk(e)
			}
		}
	}
	walk(v)
	if found == "" {
		if hp, ok := urlHostPort(raw); ok {
			found = hp
		}
	}
	return found, found != ""
}

// NetworkEndpoint extracts the highlight-entry suffix for a network event:
// "<action> host:port" for a connect/bind/etc style call, or "dns
// <hostname>" for a resolver lookup. ok is false when no endpoint could be
// recovered from the event's arguments.
func NetworkEndpoint(rec Record) (string, bool) {
	switch rec.Event {
	case "socket.getaddrinfo", "socket.getnameinfo":
		if host, ok := stringArg(rec, 0); ok && isHostlike(host) {
			return "dns " + host, true
		}
		return "", false
	}
	if host, port, ok := findHostPort(rec.Parsed); ok {
		return NetworkAction(rec.Event) + " " + host + ":" + strconv.FormatInt(port, 10), true
	}
	if hp, ok := findURLHostPort(rec.Parsed, rec.Args); ok {
		return NetworkAction(rec.Event) + " " + hp, true
	}
	return "", false
}

// IsSubprocessEvent reports whether event is one of the process-spawn
// audit hooks.
func IsSubprocessEvent(event string) bool {
	switch event {
	case "subprocess.Popen", "subprocess.run", "os.system":
		return true
	}
	switch {
	case strings.HasPrefix(event, "os.exec"),
		strings.HasPrefix(event, "os.posix_spawn"),
		strings.HasPrefix(event, "os.spawn"):
		return true
	default:
		return false
	}
}

func valueToString(v Value) string {
	switch t := v.(type) {
	case Str:
		return string(t)
	case Int:
		return strconv.FormatInt(int64(t), 10)
	case Bytes:
		return string(t)
	case Other:
		return string(t)
	case Tuple:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = valueToString(e)
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

// SubprocessCommand normalizes the first argument of a subprocess-spawn
// event to a single display string: the bare string, or the first 8
// elements of an argv list joined by spaces, middle-truncated to 120
// characters.
func SubprocessCommand(rec Record) (string, bool) {
	var raw string
	if t, ok := rec.Parsed.(Tuple); ok && len(t) > 0 {
		switch first := t[0].(type) {
		case Str:
			raw = string(first)
		case Tuple:
			n := len(first)
			if n > 8 {
				n = 8
			}
			parts := make([]string, n)
			for i := 0; i < n; i++ {
				parts[i] = valueToString(first[i])
			}
			raw = strings.Join(parts, " ")
		default:
			raw = valueToString(first)
		}
	} else if s, ok := stringArg(rec, 0); ok {
		raw = s
	}
	if raw == "" {
		return "", false
	}
	return MiddleTruncate(raw, 120), true
}

// MiddleTruncate shortens s to at most max characters by cutting from the
// middle and inserting "...", leaving s unchanged when it already fits.
func MiddleTruncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		if max <= 0 {
			return ""
		}
		return s[:max]
	}
	const ellipsis = "..."
	keep := max - len(ellipsis)
	head := keep - keep/2
	tail := keep - head
	return s[:head] + ellipsis + s[len(s)-tail:]
}
