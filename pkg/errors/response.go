package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
)

// maxErrorBody caps how much of an error response body is buffered.
const maxErrorBody = 1 << 20

// ResponseError is returned by the HTTP client for any non-2xx response. The
// body has already been read and the response closed.
type ResponseError struct {
	Method string
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

// NewResponseError reads and closes resp.Body and returns the error describing
// the failed response.
func NewResponseError(resp *http.Response) *ResponseError {
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	e := &ResponseError{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}
	if resp.Request != nil {
		e.Method = resp.Request.Method
		if resp.Request.URL != nil {
			e.URL = resp.Request.URL.String()
		}
	}
	return e
}

func (e *ResponseError) Error() string {
	if e == nil {
		return FallbackMessage
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
}

// TransportError means no response was received: dial failure, timeout or
// cancellation.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	if e == nil {
		return FallbackMessage
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorCode classifies the transport failure.
func (e *TransportError) ErrorCode() string {
	if e == nil {
		return ""
	}
	var netErr net.Error
	switch {
	case errors.Is(e.Err, context.Canceled):
		return "CANCELED"
	case errors.Is(e.Err, context.DeadlineExceeded):
		return "TIMEOUT"
	case errors.As(e.Err, &netErr) && netErr.Timeout():
		return "TIMEOUT"
	default:
		return "NETWORK_ERROR"
	}
}

// ErrRefreshFailed matches every *RefreshError through errors.Is.
var ErrRefreshFailed = errors.New("token refresh failed")

// ErrNoRefreshToken is raised without contacting the backend when no refresh
// token is stored and cookie refresh mode is off.
var ErrNoRefreshToken = &APIError{
	Code:    "NO_REFRESH_TOKEN",
	Message: "no refresh token available",
	Err:     ErrUnauthorized,
}

// RefreshError is the terminal failure of a token refresh. Cause carries the
// normalized error.
type RefreshError struct {
	Cause *APIError
	Err   error
}

// NewRefreshError normalizes err and tags it as a refresh failure.
func NewRefreshError(err error) *RefreshError {
	return &RefreshError{Cause: Normalize(err), Err: err}
}

func (e *RefreshError) Error() string {
	if e == nil || e.Cause == nil {
		return ErrRefreshFailed.Error()
	}
	return "token refresh failed: " + e.Cause.Message
}

// Name identifies the failure kind independently of the message.
func (e *RefreshError) Name() string {
	return "RefreshFailedError"
}

func (e *RefreshError) Is(target error) bool {
	return target == ErrRefreshFailed
}

func (e *RefreshError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorCode exposes the normalized code of the underlying failure.
func (e *RefreshError) ErrorCode() string {
	if e == nil || e.Cause == nil {
		return ""
	}
	return e.Cause.Code
}

const (
	// FallbackCode is used when no code can be derived from the failure.
	FallbackCode = "UNKNOWN_ERROR"
	// FallbackMessage is used when no message can be derived from the failure.
	FallbackMessage = "Something went wrong"
)

type errorCoder interface {
	ErrorCode() string
}

// Normalize turns any failure raised by the HTTP layer into an *APIError. It
// never panics; a nil error yields the fallback record.
//
// Code and message preference: body field, body error.field, the error's own
// code/message, then the fallbacks. Details preference: body details, body
// error.details, the whole decoded body, then nil.
func Normalize(err error) *APIError {
	out := &APIError{Code: FallbackCode, Message: FallbackMessage}
	if err == nil {
		return out
	}

	var (
		body   any
		fields map[string]any
		nested map[string]any
	)

	// Typed nil pointers inside the chain are treated as absent.
	var respErr *ResponseError
	if errors.As(err, &respErr) && respErr != nil {
		out.Status = respErr.Status
		if len(respErr.Body) > 0 {
			if jsonErr := json.Unmarshal(respErr.Body, &body); jsonErr != nil {
				body = string(respErr.Body)
			}
		}
		fields, _ = body.(map[string]any)
		if fields != nil {
			nested, _ = fields["error"].(map[string]any)
		}
	}

	var apiErr *APIError
	hasAPIErr := errors.As(err, &apiErr) && apiErr != nil
	if hasAPIErr && out.Status == 0 {
		out.Status = apiErr.Status
	}

	out.Code = firstNonEmpty(
		stringField(fields, "code"),
		stringField(nested, "code"),
		errorLevelCode(err, apiErr),
		FallbackCode,
	)

	var ownMessage string
	switch {
	case hasAPIErr:
		ownMessage = apiErr.Message
	case respErr != nil:
		ownMessage = http.StatusText(respErr.Status)
	default:
		ownMessage = errorText(err)
	}
	out.Message = firstNonEmpty(
		stringField(fields, "message"),
		stringField(nested, "message"),
		ownMessage,
		FallbackMessage,
	)

	switch {
	case fields != nil && fields["details"] != nil:
		out.Details = fields["details"]
	case nested != nil && nested["details"] != nil:
		out.Details = nested["details"]
	case body != nil:
		out.Details = body
	case hasAPIErr && apiErr.Details != nil:
		out.Details = apiErr.Details
	}

	out.Err = sentinelFor(out.Status)
	if out.Err == nil && hasAPIErr {
		out.Err = apiErr.Err
	}
	return out
}

// errorText returns err.Error(), or "" when a nil receiver of a foreign type
// panics.
func errorText(err error) (msg string) {
	defer func() {
		if recover() != nil {
			msg = ""
		}
	}()
	return err.Error()
}

func errorLevelCode(err error, apiErr *APIError) (code string) {
	defer func() {
		if recover() != nil {
			code = ""
		}
	}()
	var coder errorCoder
	if errors.As(err, &coder) {
		if code := coder.ErrorCode(); code != "" {
			return code
		}
	}
	if apiErr != nil {
		return apiErr.Code
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
