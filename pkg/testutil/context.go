package testutil

import (
	"net/http"
)

// WithBearer sets the Authorization header to a bearer credential.
func WithBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// WithClientIP sets X-Forwarded-For, as a proxy in front of the server
// would. It only takes effect when the request's peer is a trusted proxy.
func WithClientIP(req *http.Request, ip string) *http.Request {
	req.Header.Set("X-Forwarded-For", ip)
	return req
}
