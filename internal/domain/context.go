package domain

import "context"

type principalKey struct{}

// ContextPrincipal carries the authenticated caller through request context.
// Its name is recorded as the creator of pipelines and on manual executions.
type ContextPrincipal struct {
	Name string
}

// WithPrincipal stores a ContextPrincipal in the context.
func WithPrincipal(ctx context.Context, p ContextPrincipal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext extracts the ContextPrincipal from the context.
func PrincipalFromContext(ctx context.Context) (ContextPrincipal, bool) {
	p, ok := ctx.Value(principalKey{}).(ContextPrincipal)
	return p, ok
}

// PrincipalName returns the caller name from ctx, or fallback when absent.
func PrincipalName(ctx context.Context, fallback string) string {
	if p, ok := PrincipalFromContext(ctx); ok && p.Name != "" {
		return p.Name
	}
	return fallback
}
