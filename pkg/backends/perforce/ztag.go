package perforce

import (
	"strconv"
	"strings"
)

const ztagPrefix = "... "

// Record is one object from p4 -ztag output.
type Record map[string]string

// List returns the values of an indexed field (depotFile0, depotFile1, ...)
// in index order.
func (r Record) List(field string) []string {
	var values []string

	for i := 0; ; i++ {
		v, ok := r[field+strconv.Itoa(i)]
		if !ok {
			return values
		}

		values = append(values, v)
	}
}

// parseZtag splits p4 -ztag output into records. A line starting with
// "... " begins a field; any other line continues the previous field's
// value, which keeps multi-line descriptions intact. A new record starts
// when a field repeats within the current one.
func parseZtag(out string) []Record {
	var (
		records []Record
		current Record
		lastKey string
	)

	flush := func() {
		if current == nil {
			return
		}

		for k, v := range current {
			current[k] = strings.TrimRight(v, "\n")
		}

		records = append(records, current)
		current = nil
		lastKey = ""
	}

	for line := range strings.SplitSeq(strings.ReplaceAll(out, "\r\n", "\n"), "\n") {
		if rest, ok := strings.CutPrefix(line, ztagPrefix); ok {
			key, value, _ := strings.Cut(rest, " ")

			if _, dup := current[key]; dup {
				flush()
			}

			if current == nil {
				current = Record{}
			}

			current[key] = value
			lastKey = key

			continue
		}

		if lastKey != "" {
			current[lastKey] += "\n" + line
		}
	}

	flush()

	return records
}
