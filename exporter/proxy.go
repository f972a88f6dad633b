package exporter

import (
	"context"
	"net/url"
)

type proxyKey struct{}

// WithProxyURL returns a context that routes the scrape through the
// given forward proxy instead of whatever the environment names.
// Unparseable or empty proxy values leave the context untouched.
func WithProxyURL(ctx context.Context, proxy string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	u, err := url.Parse(proxy)
	if err != nil || u.String() == "" {
		return ctx
	}
	return context.WithValue(ctx, proxyKey{}, u)
}

func proxyURLFromContext(ctx context.Context) *url.URL {
	if ctx == nil {
		return nil
	}
	u, _ := ctx.Value(proxyKey{}).(*url.URL)
	return u
}
