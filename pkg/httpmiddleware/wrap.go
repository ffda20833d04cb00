// Package httpmiddleware provides composable net/http middleware: panic
// recovery, CORS, request IDs, rate limiting, request logging, and OpenTelemetry
// instrumentation.
package httpmiddleware

import "net/http"

// Middleware wraps an http.Handler with additional behaviour.
type Middleware func(next http.Handler) http.Handler

// Wrap applies middlewares to h. The first middleware in the list is the
// outermost, i.e. it sees the request first.
func Wrap(h http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
