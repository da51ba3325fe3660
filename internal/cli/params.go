package cli

import (
	"fmt"
	"sort"
	"strings"
)

// paramsFlag collects repeated name=value flags.
type paramsFlag map[string]string

func (p paramsFlag) String() string {
	pairs := make([]string, 0, len(p))
	for k, v := range p {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (p paramsFlag) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("expecting name=value, got %q", s)
	}
	p[name] = value
	return nil
}
