// Package report prints feature results the way the command line tool shows them.
package report

import (
	"fmt"
	"io"
	"sort"
)

// Fprint writes title followed by one "   key : value" line per result,
// ordered by key.
func Fprint(w io.Writer, title string, results map[string]float64) error {
	if _, err := fmt.Fprintln(w, title); err != nil {
		return err
	}

	keys := make([]string, 0, len(results))
	for key := range results {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, err := fmt.Fprintf(w, "   %s : %v\n", key, results[key]); err != nil {
			return err
		}
	}
	return nil
}
