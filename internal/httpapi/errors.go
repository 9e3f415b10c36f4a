package httpapi

import "github.com/llanx/UNITED/internal/apperrors"

// Thin local aliases so handler files read as plain verbs.
func badRequest(msg string) error       { return apperrors.BadRequest(msg) }
func unauthorized(msg string) error     { return apperrors.Unauthorized(msg) }
func forbidden(msg string) error        { return apperrors.Forbidden(msg) }
func notFound(resource string) error    { return apperrors.NotFound(resource) }
func conflictErr(msg string) error      { return apperrors.Conflict(msg) }
func goneErr(msg string) error          { return apperrors.Gone(msg) }
func payloadTooLarge(msg string) error  { return apperrors.PayloadTooLarge(msg) }
func internalErr(details string) error  { return apperrors.Internal(details) }
