// Package logging provides slog helpers shared by the binaries.
//
// RedactingHandler scrubs credentials out of log records before they reach
// the underlying handler: values of sensitive attribute keys are replaced
// wholesale, and configured secret strings (the RPC URL, API keys) are
// replaced wherever they appear in the message or in string and error values.
package logging

import (
	"context"
	"log/slog"
	"strings"
)

const (
	// Redacted replaces sensitive values.
	Redacted = "[REDACTED]"
	// RedactedRPCURL replaces the configured RPC URL.
	RedactedRPCURL = "[RPC_URL]"

	// minSecretLen skips secrets too short to scrub without mangling unrelated text.
	minSecretLen = 5
)

// sensitiveKeys are attribute keys whose values are never logged.
var sensitiveKeys = map[string]struct{}{
	"rpc_url":         {},
	"url":             {},
	"host":            {},
	"api_key":         {},
	"token":           {},
	"etherscan_token": {},
	"password":        {},
}

// RedactOptions configures which strings are scrubbed.
type RedactOptions struct {
	// RPCURL is replaced with [RPC_URL].
	RPCURL string
	// Secrets are replaced with [REDACTED].
	Secrets []string
}

// RedactingHandler wraps another slog.Handler and removes secrets from records.
type RedactingHandler struct {
	next     slog.Handler
	replacer *strings.Replacer
}

var _ slog.Handler = (*RedactingHandler)(nil)

// NewRedactingHandler wraps next.
func NewRedactingHandler(next slog.Handler, opts RedactOptions) *RedactingHandler {
	var pairs []string
	if len(opts.RPCURL) >= minSecretLen {
		pairs = append(pairs, opts.RPCURL, RedactedRPCURL)
	}
	for _, s := range opts.Secrets {
		if len(s) >= minSecretLen {
			pairs = append(pairs, s, Redacted)
		}
	}

	h := &RedactingHandler{next: next}
	if len(pairs) > 0 {
		h.replacer = strings.NewReplacer(pairs...)
	}
	return h
}

// Enabled reports whether the wrapped handler handles records at level.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle scrubs the record and passes it on.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, h.scrub(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs redacts attrs once, up front.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(redacted), replacer: h.replacer}
}

// WithGroup returns a handler that nests attrs under name.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name), replacer: h.replacer}
}

func (h *RedactingHandler) redactAttr(a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, Redacted)
	}

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.scrub(v.String()))
	case slog.KindGroup:
		group := v.Group()
		redacted := make([]any, len(group))
		for i, ga := range group {
			redacted[i] = h.redactAttr(ga)
		}
		return slog.Group(a.Key, redacted...)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, h.scrub(err.Error()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

func (h *RedactingHandler) scrub(s string) string {
	if h.replacer == nil {
		return s
	}
	return h.replacer.Replace(s)
}

// TokenPrefix shortens a token address for log lines.
func TokenPrefix(token string) string {
	if len(token) <= 10 {
		return token
	}
	return token[:10]
}
