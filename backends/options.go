package backends

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/brettbedarf/libfs"
)

// optionReader pulls typed values out of a raw option map and collects
// per-field failures.
type optionReader struct {
	raw  map[string]string
	seen map[string]bool
	errs *libfs.ValidationError
}

func newOptionReader(raw map[string]string) *optionReader {
	return &optionReader{raw: raw, seen: map[string]bool{}, errs: &libfs.ValidationError{}}
}

func (o *optionReader) required(key string) string {
	o.seen[key] = true
	v := strings.TrimSpace(o.raw[key])
	if v == "" {
		o.errs.Add(key, "this field is required")
	}
	return v
}

func (o *optionReader) optional(key string) string {
	o.seen[key] = true
	return strings.TrimSpace(o.raw[key])
}

func (o *optionReader) optionalBool(key string, def bool) bool {
	v := o.optional(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		o.errs.Add(key, fmt.Sprintf("%q is not a boolean", v))
		return def
	}
	return b
}

// finish reports unknown keys and returns the collected failures, if any.
func (o *optionReader) finish() error {
	for key := range o.raw {
		if !o.seen[key] {
			o.errs.Add(key, "unknown option")
		}
	}
	if o.errs.Empty() {
		return nil
	}
	return o.errs
}

// maxObjectName bounds the filename part of a key so id-prefixed names
// stay within common filesystem and object store component limits.
const maxObjectName = 160

// timeBucket is the key component grouping objects by creation month.
func timeBucket(t time.Time) string {
	return t.UTC().Format("2006.01")
}

// objectName builds the last key component from an object id and its
// filename. The id keeps names unique; the filename is kept for humans
// browsing the store.
func objectName(id int64, filename string) string {
	if len(filename) > maxObjectName {
		cut := maxObjectName
		for cut > 0 && !utf8.RuneStart(filename[cut]) {
			cut--
		}
		filename = filename[:cut]
	}
	return fmt.Sprintf("%d_%s", id, filename)
}
