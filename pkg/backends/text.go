package backends

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

// DecodeText converts backend output in the repository's configured
// encoding to UTF-8. Output that is already valid UTF-8, or an empty
// encoding list, is returned unchanged. encodings may list several
// comma-separated names; the first that decodes cleanly wins.
func DecodeText(data []byte, encodings string) (string, error) {
	if utf8.Valid(data) || strings.TrimSpace(encodings) == "" {
		return string(data), nil
	}

	var lastErr error

	for name := range strings.SplitSeq(encodings, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		enc, err := htmlindex.Get(name)
		if err != nil {
			lastErr = fmt.Errorf("unknown encoding %q: %w", name, err)

			continue
		}

		decoded, err := enc.NewDecoder().Bytes(data)
		if err != nil {
			lastErr = fmt.Errorf("decode as %s: %w", name, err)

			continue
		}

		return string(decoded), nil
	}

	if lastErr == nil {
		return string(data), nil
	}

	return "", lastErr
}
