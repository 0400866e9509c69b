package testutil

import (
	"net/http"
	"time"

	"iinportal/pkg/requestcontext"
)

// AsApplicant puts the principal auth.RequireAuth would set for an applicant.
func AsApplicant(req *http.Request, userID int64) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), userID, requestcontext.RoleApplicant))
}

// AsAdmin marks the request as sent by an authenticated administrator.
func AsAdmin(req *http.Request, userID int64) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), userID, requestcontext.RoleAdmin))
}

// AtTime pins the request-scoped clock.
func AtTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
