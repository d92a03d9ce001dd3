package utils

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"
	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

var labelRe = regexp.MustCompile(`^[a-zA-Z0-9\-]+$`)

func IsValidDomain(domain string) bool {
	if domain == "" || len(domain) > 253 {
		return false
	}
	parts := strings.Split(domain, ".")
	if len(parts) < 2 {
		return false
	}
	for _, part := range parts {
		if len(part) == 0 || len(part) > 63 {
			return false
		}
		if !labelRe.MatchString(part) {
			return false
		}
		if part[0] == '-' || part[len(part)-1] == '-' {
			return false
		}
	}
	return true
}

// NormalizeDomain lowercases, strips a trailing dot and a wildcard label, and
// converts IDNs to their ASCII form.
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(norm.NFKC.String(domain)))
	d = strings.TrimSuffix(d, ".")
	d = strings.TrimPrefix(d, "*.")
	if ascii, err := idna.Lookup.ToASCII(d); err == nil {
		d = ascii
	}
	return d
}

func IsValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}

func IsValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Host == "" {
		return false
	}
	h := u.Hostname()
	return IsValidIP(h) || IsValidDomain(h) || h == "localhost"
}

func RemoveDuplicates(slice []string) []string {
	seen := make(map[string]struct{}, len(slice))
	out := make([]string, 0, len(slice))
	for _, s := range slice {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Truncate keeps the first n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func HumanizeDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := d / time.Minute
		seconds := (d % time.Minute) / time.Second
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	hours := d / time.Hour
	minutes := (d % time.Hour) / time.Minute
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func SafeWriteFile(path string, data []byte, mode os.FileMode) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, mode); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// IsSubdomainOf reports whether name is strictly below parent. Both are
// normalised first.
func IsSubdomainOf(name, parent string) bool {
	n, p := NormalizeDomain(name), NormalizeDomain(parent)
	if n == "" || p == "" || n == p {
		return false
	}
	return strings.HasSuffix(n, "."+p)
}
