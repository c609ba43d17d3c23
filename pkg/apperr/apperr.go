// Package apperr defines the storefront's error taxonomy. Every error has a
// gRPC code as its category, a stable machine-readable reason that clients
// can switch on, and a human-readable message.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.mongodb.org/mongo-driver/mongo"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Error struct {
	Code    codes.Code
	Reason  string
	Message string
	Err     error
	// Details carries structured context for the client (e.g. which
	// shipping step failed). Rendered as-is.
	Details map[string]any
}

func New(code codes.Code, reason, message string) *Error {
	return &Error{Code: code, Reason: reason, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same reason, so sentinels below work with
// errors.Is even after Withf/Wrap produced a copy.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason == e.Reason
}

// Withf returns a copy of e with a formatted message.
func (e *Error) Withf(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap returns a copy of e carrying err as its cause.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// WithDetails returns a copy of e with structured details attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// GRPCStatus lets status.Convert and status.Code understand *Error.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

// HTTPStatus maps the error category to the status code the gateway sends.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.InvalidArgument, codes.FailedPrecondition, codes.AlreadyExists:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Unavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrNotAuthenticated   = New(codes.Unauthenticated, "NOT_AUTHENTICATED", "user not authenticated")
	ErrInvalidCredentials = New(codes.Unauthenticated, "INVALID_CREDENTIALS", "invalid email or password")
	ErrForbidden          = New(codes.PermissionDenied, "FORBIDDEN", "access denied: administrators only")
	ErrInvalidInput       = New(codes.InvalidArgument, "INVALID_INPUT", "invalid input")
	ErrNotFound           = New(codes.NotFound, "NOT_FOUND", "not found")

	ErrEmptyCart            = New(codes.FailedPrecondition, "EMPTY_CART", "cart is empty")
	ErrProductNotFound      = New(codes.NotFound, "PRODUCT_NOT_FOUND", "product not found")
	ErrOutOfStock           = New(codes.FailedPrecondition, "OUT_OF_STOCK", "product out of stock")
	ErrInsufficientStock    = New(codes.FailedPrecondition, "INSUFFICIENT_STOCK", "insufficient stock")
	ErrInvalidShippingValue = New(codes.InvalidArgument, "INVALID_SHIPPING_VALUE", "invalid shipping value")
	ErrOrderNotPending      = New(codes.FailedPrecondition, "ORDER_NOT_PENDING", "order is not pending payment")

	ErrInvalidNotification      = New(codes.InvalidArgument, "INVALID_NOTIFICATION", "invalid notification")
	ErrPaymentLookupFailed      = New(codes.FailedPrecondition, "PAYMENT_LOOKUP_FAILED", "payment not found or invalid")
	ErrPaymentNotApproved       = New(codes.FailedPrecondition, "PAYMENT_NOT_APPROVED", "payment not approved")
	ErrExternalReferenceMissing = New(codes.InvalidArgument, "EXTERNAL_REFERENCE_MISSING", "order id not found in external_reference")
	ErrOrderNotFound            = New(codes.NotFound, "ORDER_NOT_FOUND", "order not found")
	ErrAlreadyProcessed         = New(codes.AlreadyExists, "ALREADY_PROCESSED", "order already approved")

	ErrUpstream           = New(codes.Unavailable, "UPSTREAM_FAILURE", "upstream service failure")
	ErrShippingStepFailed = New(codes.Unavailable, "SHIPPING_STEP_FAILED", "shipping label purchase failed")
	ErrTimeout            = New(codes.DeadlineExceeded, "STORE_TIMEOUT", "operation timed out")
	ErrInternal           = New(codes.Internal, "INTERNAL", "internal error")
)

// From normalises any error into an *Error. Deadline errors (context or
// driver) become ErrTimeout; anything unknown becomes ErrInternal.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	if errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) {
		return ErrTimeout.Wrap(err)
	}

	return ErrInternal.Wrap(err)
}

// IsTimeout reports whether err is a bounded-wait failure.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err)
}
