package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodePermissionDenied   = Code(codes.PermissionDenied)
	CodeUnavailable        = Code(codes.Unavailable)
	CodeInternal           = Code(codes.Internal)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodeFailedPrecondition: http.StatusConflict,
	CodePermissionDenied:   http.StatusForbidden,
	CodeUnavailable:        http.StatusServiceUnavailable,
	CodeInternal:           http.StatusInternalServerError,
}

// Reasons refine a code into the engine's error taxonomy.
const (
	ReasonUnknownTier        = "UNKNOWN_TIER"
	ReasonAlreadyFinished    = "ALREADY_FINISHED"
	ReasonDuplicateAnswer    = "DUPLICATE_ANSWER_IGNORED"
	ReasonDuplicatePayment   = "DUPLICATE_PAYMENT_IGNORED"
	ReasonStorageUnavailable = "STORAGE_UNAVAILABLE"
	ReasonNoSession          = "NO_SESSION"
	ReasonPremiumRequired    = "PREMIUM_REQUIRED"
)

type Error struct {
	Code    Code   `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.Reason != "" {
		s += fmt.Sprintf(", reason: %s", e.Reason)
	}
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

// IsReason reports whether any error in err's chain is an *Error with the given reason.
func IsReason(err error, reason string) bool {
	var e *Error
	return errors.As(err, &e) && e.Reason == reason
}

// IsCode reports whether any error in err's chain is an *Error with the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

func UnknownTier(tier string) *Error {
	return New(CodeInvalidArgument,
		WithReason(ReasonUnknownTier),
		WithMessagef("unknown tier %q, pick another level", tier))
}

func AlreadyFinished() *Error {
	return New(CodeFailedPrecondition,
		WithReason(ReasonAlreadyFinished),
		WithMessagef("quiz already finished"))
}

func DuplicateAnswer(cursor int) *Error {
	return New(CodeAlreadyExists,
		WithReason(ReasonDuplicateAnswer),
		WithMessagef("answer for question %d already accepted", cursor))
}

func DuplicatePayment(paymentID string) *Error {
	return New(CodeAlreadyExists,
		WithReason(ReasonDuplicatePayment),
		WithMessagef("payment %s already confirmed", paymentID))
}

func StorageUnavailable(err error) *Error {
	return New(CodeUnavailable,
		WithReason(ReasonStorageUnavailable),
		WithMessagef("storage unavailable"),
		WithCause(err))
}

func NoSession() *Error {
	return New(CodeFailedPrecondition,
		WithReason(ReasonNoSession),
		WithMessagef("no quiz in progress, send /start"))
}

func PremiumRequired() *Error {
	return New(CodePermissionDenied,
		WithReason(ReasonPremiumRequired),
		WithMessagef("premium access required"))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithReason(reason string) Option {
	return optionFunc(func(e *Error) {
		e.Reason = reason
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}
