package aws

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/nightshift/pkg/resource"
)

// errorCode extracts the AWS API error code, or "" for non-API errors.
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr.ErrorCode()
	}
	return ""
}

// isCanceled reports whether err comes from the invocation deadline.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (p *Plugin) logActionError(err *resource.ActionError) {
	ev := log.Warn().
		Err(err.Err).
		Str("region", p.region).
		Str("kind", string(err.Kind)).
		Str("id", err.ID).
		Str("op", err.Op)
	if code := errorCode(err.Err); code != "" {
		ev = ev.Str("aws_error_code", code)
	}
	if isCanceled(err.Err) {
		ev = ev.Bool("deadline", true)
	}
	ev.Msg("action failed")
}

func (p *Plugin) logListingError(err error) {
	ev := log.Warn().Err(err).Str("region", p.region)
	var le *resource.ListingError
	if errors.As(err, &le) {
		ev = ev.Str("kind", string(le.Kind))
	}
	if code := errorCode(err); code != "" {
		ev = ev.Str("aws_error_code", code)
	}
	ev.Msg("listing failed")
}
