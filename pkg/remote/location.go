package remote

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// Scheme is the URL scheme of remote files.
const Scheme = "sftp"

// Location is a file on a remote host.
type Location struct {
	Host string
	Port int
	User string
	Path string
}

// IsRemote reports whether s is an sftp:// URL.
func IsRemote(s string) bool {
	return strings.HasPrefix(s, Scheme+"://")
}

// ParseLocation parses sftp://[user@]host[:port]/path. A missing user
// defaults to defaultUser and a missing port to 22. The path is absolute.
func ParseLocation(raw, defaultUser string) (*Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid remote location %q: %w", raw, err)
	}
	if u.Scheme != Scheme {
		return nil, fmt.Errorf("invalid remote location %q: scheme must be %s", raw, Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid remote location %q: host is required", raw)
	}
	if u.Path == "" || u.Path == "/" {
		return nil, fmt.Errorf("invalid remote location %q: path is required", raw)
	}
	if _, set := u.User.Password(); set {
		return nil, fmt.Errorf("invalid remote location %q: passwords are not accepted in URLs", raw)
	}

	loc := &Location{
		Host: u.Hostname(),
		Port: 22,
		User: u.User.Username(),
		Path: path.Clean(u.Path),
	}
	if loc.User == "" {
		loc.User = defaultUser
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid remote location %q: bad port %q", raw, p)
		}
		loc.Port = port
	}

	return loc, nil
}

// Sibling returns the location of name in the same remote directory.
func (l *Location) Sibling(name string) *Location {
	s := *l
	s.Path = path.Join(path.Dir(l.Path), name)
	return &s
}

// Base returns the last element of the remote path.
func (l *Location) Base() string {
	return path.Base(l.Path)
}

// String returns the location as an sftp:// URL.
func (l *Location) String() string {
	host := l.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if l.Port != 0 && l.Port != 22 {
		host = net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
	}
	u := url.URL{
		Scheme: Scheme,
		Host:   host,
		Path:   l.Path,
	}
	if l.User != "" {
		u.User = url.User(l.User)
	}
	return u.String()
}
