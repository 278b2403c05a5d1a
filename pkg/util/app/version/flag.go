package version

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"
)

const flagName = "version"
const flagShortHand = "V"

type value int

const (
	boolFalse value = 0
	boolTrue  value = 1
	allInfo   value = 3

	strAllVersionInfo string = "all"
)

var (
	v = boolFalse
)

func (v *value) Set(s string) error {
	if s == strAllVersionInfo {
		*v = allInfo
		return nil
	}
	boolVal, err := strconv.ParseBool(s)
	if boolVal {
		*v = boolTrue
	} else {
		*v = boolFalse
	}
	return err
}

func (v *value) String() string {
	if *v == allInfo {
		return strAllVersionInfo
	}
	return strconv.FormatBool(*v == boolTrue)
}

func (v *value) Type() string {
	return "version"
}

func (v *value) IsBoolFlag() bool {
	return true
}

// AddFlags registers the version flag on the given flag set.
func AddFlags(fs *pflag.FlagSet) {
	fs.VarP(&v, flagName, flagShortHand, "Print version information and quit.")
	fs.Lookup(flagName).NoOptDefVal = "true"
}

// PrintAndExitIfRequested checks whether the version flag was passed
// and, if so, prints the version and exits.
func PrintAndExitIfRequested(appName string) {
	if v == allInfo {
		fmt.Printf("%s version: %#v\n", appName, Get())
		os.Exit(0)
	}
	if v == boolTrue {
		fmt.Printf("%s version: %s\n", appName, Get())
		os.Exit(0)
	}
}
