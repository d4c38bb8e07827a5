package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/pflag"
)

var _ pflag.Value = (*paramsValue)(nil)

// paramsValue collects repeated --param key=value flags.
type paramsValue map[string]string

func (p *paramsValue) String() string {
	if p == nil || len(*p) == 0 {
		return ""
	}
	keys := make([]string, 0, len(*p))
	for k := range *p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + (*p)[k]
	}
	return strings.Join(parts, ",")
}

func (p *paramsValue) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	if *p == nil {
		*p = paramsValue{}
	}
	(*p)[key] = value
	return nil
}

func (p *paramsValue) Type() string { return "key=value" }

func addParamsFlag(fs *pflag.FlagSet, p *paramsValue) {
	fs.VarP(p, "param", "P", "Execution parameter as key=value (repeatable)")
}
