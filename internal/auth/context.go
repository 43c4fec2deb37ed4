// ABOUTME: Request-scoped auth identity carried through context
// ABOUTME: Stores the verified token subject for handlers that need the caller identity

package auth

import "context"

type contextKey struct{}

// WithSubject returns a context carrying the verified token subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, contextKey{}, subject)
}

// SubjectFromContext returns the verified token subject, or "" if the
// request was not authenticated.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(contextKey{}).(string)
	return subject
}
