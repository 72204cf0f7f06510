package file

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

const Type = "path"

// Flag defines a flag holding the path of a regular file. Setting the flag to
// a directory or to any other non regular file fails immediately, so commands
// can rely on the path being usable as a file once flag parsing succeeded.
// The path is not required to exist.
type Flag struct {
	path   string
	exists bool
}

func (f *Flag) String() string {
	return f.path
}

func (f *Flag) Set(s string) error {
	info, err := os.Stat(s)
	switch {
	case os.IsNotExist(err):
		f.exists = false
	case err != nil:
		return fmt.Errorf("unable to stat path %q: %w", s, err)
	case info.IsDir():
		return fmt.Errorf("path %q is a directory, not a file", s)
	case !info.Mode().IsRegular():
		return fmt.Errorf("path %q is not a regular file", s)
	default:
		f.exists = true
	}
	f.path = s
	return nil
}

func (f *Flag) Type() string {
	return Type
}

// Exists reports whether the path existed when the flag was set.
func (f *Flag) Exists() bool {
	return f.exists
}

func Var(f *pflag.FlagSet, name, value, usage string) {
	VarP(f, name, "", value, usage)
}

func VarP(f *pflag.FlagSet, name, shorthand, value, usage string) {
	flag := &Flag{path: strings.Clone(value)}
	f.VarP(flag, name, shorthand, usage)
}

func Get(f *pflag.FlagSet, name string) (*Flag, error) {
	flag := f.Lookup(name)
	if flag == nil {
		return nil, fmt.Errorf("flag accessed but not defined: %s", name)
	}

	pathFlag, ok := flag.Value.(*Flag)
	if !ok {
		return nil, fmt.Errorf("trying to get %s value of flag of type %s", Type, flag.Value.Type())
	}

	return pathFlag, nil
}
