package observability

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// exportedNamespaces lists the attribute namespaces spans may carry out of
// the process.
var exportedNamespaces = []string{"scm.", "error.", "http.", "rbssh.", "stunnel.", "ssh.", "runner."}

// secretKeys are dropped wherever they appear, including inside an exported
// namespace ("scm.password", "ssh.passphrase").
var secretKeys = []string{"password", "passphrase", "ticket", "username", "email"}

// Repository locations can embed credentials: "ssh://user:pw@host/repo" or a
// CVSROOT such as ":pserver:user:pw@host:/cvsroot".
var (
	urlSecretRe     = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://[^/:@\s]+):[^@/\s]*@`)
	cvsrootSecretRe = regexp.MustCompile(`(:(?:pserver|ext|ssh|server):[^:@\s]+):[^@\s]*@`)
)

// Redacted replaces credentials removed from attribute values.
const Redacted = "xxxxx"

// spanFilter drops credential and out-of-namespace attributes and masks
// passwords embedded in repository locations before spans are exported.
type spanFilter struct {
	next   sdktrace.SpanProcessor
	logger *slog.Logger
}

// NewAttributeFilter wraps next so exported spans never carry repository
// credentials. Dropped keys are logged when logger is non-nil.
func NewAttributeFilter(next sdktrace.SpanProcessor, logger *slog.Logger) sdktrace.SpanProcessor {
	return &spanFilter{next: next, logger: logger}
}

func (f *spanFilter) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	f.next.OnStart(parent, s)
}

func (f *spanFilter) OnEnd(s sdktrace.ReadOnlySpan) {
	f.next.OnEnd(&redactedSpan{ReadOnlySpan: s, attrs: f.filter(s.Attributes())})
}

func (f *spanFilter) Shutdown(ctx context.Context) error {
	if err := f.next.Shutdown(ctx); err != nil {
		return fmt.Errorf("span filter shutdown: %w", err)
	}

	return nil
}

func (f *spanFilter) ForceFlush(ctx context.Context) error {
	if err := f.next.ForceFlush(ctx); err != nil {
		return fmt.Errorf("span filter flush: %w", err)
	}

	return nil
}

func (f *spanFilter) filter(attrs []attribute.KeyValue) []attribute.KeyValue {
	kept := make([]attribute.KeyValue, 0, len(attrs))

	for _, kv := range attrs {
		key := string(kv.Key)

		if !exported(key) {
			f.dropped(key)

			continue
		}

		if kv.Value.Type() == attribute.STRING {
			kv = attribute.String(key, RedactLocation(kv.Value.AsString()))
		}

		kept = append(kept, kv)
	}

	return kept
}

func (f *spanFilter) dropped(key string) {
	if f.logger != nil {
		f.logger.Warn("span attribute dropped", "key", key)
	}
}

func exported(key string) bool {
	leaf := key[strings.LastIndex(key, ".")+1:]
	for _, secret := range secretKeys {
		if leaf == secret {
			return false
		}
	}

	for _, ns := range exportedNamespaces {
		if strings.HasPrefix(key, ns) {
			return true
		}
	}

	return false
}

// RedactLocation masks the password in URL userinfo and in CVSROOT strings,
// keeping the user name and host.
func RedactLocation(s string) string {
	if !strings.Contains(s, "@") {
		return s
	}

	s = urlSecretRe.ReplaceAllString(s, "${1}:"+Redacted+"@")

	return cvsrootSecretRe.ReplaceAllString(s, "${1}:"+Redacted+"@")
}

// redactedSpan presents the filtered attribute set of a finished span.
type redactedSpan struct {
	sdktrace.ReadOnlySpan

	attrs []attribute.KeyValue
}

func (s *redactedSpan) Attributes() []attribute.KeyValue { return s.attrs }
