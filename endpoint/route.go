package endpoint

import (
	"fmt"
	"strings"
)

// Route addresses one remote call: a load-balanced group (optionally pinned
// to a specific destination instance), a service, and a method. It is parsed
// once per request and immutable afterwards.
type Route struct {
	Group       string
	Destination string
	Service     string
	Method      string
}

// ParseRoute parses a URL path of the form /{group}/{service}/{method} or
// /{group}/{destination}/{service}/{method}. A two-segment path
// /{service}/{method} is accepted for routes configured with a default
// group.
func ParseRoute(path string) (Route, error) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	switch len(segs) {
	case 2:
		if hasEmpty(segs) {
			break
		}
		return Route{Service: segs[0], Method: segs[1]}, nil
	case 3:
		if hasEmpty(segs) {
			break
		}
		return Route{Group: segs[0], Service: segs[1], Method: segs[2]}, nil
	case 4:
		if hasEmpty(segs) {
			break
		}
		return Route{Group: segs[0], Destination: segs[1], Service: segs[2], Method: segs[3]}, nil
	}
	return Route{}, fmt.Errorf("path %q does not match /{group}[/{destination}]/{service}/{method}", path)
}

func hasEmpty(segs []string) bool {
	for _, s := range segs {
		if s == "" {
			return true
		}
	}
	return false
}
