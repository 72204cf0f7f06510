package enum

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/pflag"
)

const Type = "enum"

// Flag defines a string flag restricted to a fixed set of values. The first
// allowed value acts as the default.
type Flag struct {
	value   string
	allowed []string
}

func (f *Flag) String() string {
	return f.value
}

func (f *Flag) Set(s string) error {
	if !slices.Contains(f.allowed, s) {
		return fmt.Errorf("invalid value %q, must be one of [%s]", s, strings.Join(f.allowed, ", "))
	}
	f.value = s
	return nil
}

func (f *Flag) Type() string {
	return Type
}

func Var(f *pflag.FlagSet, name string, values []string, usage string) {
	VarP(f, name, "", values, usage)
}

func VarP(f *pflag.FlagSet, name, shorthand string, values []string, usage string) {
	flag := &Flag{allowed: values}
	if len(values) > 0 {
		flag.value = values[0]
	}
	f.VarP(flag, name, shorthand, usage)
}

func Get(f *pflag.FlagSet, name string) (string, error) {
	flag := f.Lookup(name)
	if flag == nil {
		return "", fmt.Errorf("flag accessed but not defined: %s", name)
	}

	if flag.Value.Type() != Type {
		return "", fmt.Errorf("trying to get %s value of flag of type %s", Type, flag.Value.Type())
	}

	return flag.Value.String(), nil
}
