package testutil

import (
	"net/http"

	"ever/pkg/requestcontext"
)

// WithAdminID adds an authenticated admin id to the request context,
// simulating what the auth middleware does for authenticated requests.
func WithAdminID(req *http.Request, adminID string) *http.Request {
	if adminID == "" {
		return req
	}
	return req.WithContext(requestcontext.WithAdminID(req.Context(), adminID))
}

// WithRequestID adds a correlation id to the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	if requestID == "" {
		return req
	}
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
