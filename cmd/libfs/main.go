// Command libfs manages libraries of files and directories stored in
// pluggable backends.
package main

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/brettbedarf/libfs"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		printError(err)
		os.Exit(exitCode(err))
	}
}

// Exit codes by error kind
var exitCodes = map[libfs.ErrorKind]int{
	libfs.KindNotFound:         2,
	libfs.KindAlreadyExists:    3,
	libfs.KindWrongKind:        4,
	libfs.KindNotEmpty:         5,
	libfs.KindInvalidOperation: 6,
	libfs.KindInvalidVariant:   7,
	libfs.KindUnprocessable:    8,
	libfs.KindStorage:          9,
	libfs.KindValidation:       10,
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if code, ok := exitCodes[libfs.KindOf(err)]; ok {
		return code
	}
	return 1
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "libfs: %v\n", err)
	var verr *libfs.ValidationError
	if errors.As(err, &verr) {
		fields := make([]string, 0, len(verr.Fields))
		for f := range verr.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", f, verr.Fields[f])
		}
	}
}
