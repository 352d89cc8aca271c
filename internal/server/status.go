package server

import (
	"context"
	"errors"

	"NeuroVault/internal/vault"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const errorDomain = "neurovault"

var codeTable = []struct {
	err  error
	code codes.Code
}{
	{vault.ErrUnauthorized, codes.PermissionDenied},
	{vault.ErrNotInitialized, codes.FailedPrecondition},
	{vault.ErrAlreadyInitialized, codes.FailedPrecondition},
	{vault.ErrPaused, codes.FailedPrecondition},
	{vault.ErrInsufficientBalance, codes.FailedPrecondition},
	{vault.ErrInvalidAmount, codes.InvalidArgument},
	{vault.ErrInvalidInput, codes.InvalidArgument},
	{vault.ErrCapExceeded, codes.ResourceExhausted},
	{vault.ErrArithmetic, codes.OutOfRange},
	{vault.ErrTokenTransferFailed, codes.Aborted},
	{context.Canceled, codes.Canceled},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
}

// Code maps an engine error to its gRPC code.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	for _, e := range codeTable {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return codes.Internal
}

// toStatus converts err into a gRPC status carrying the rejection reason in
// an ErrorInfo detail. Internal errors keep their message out of the reply.
func toStatus(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}

	code := Code(err)
	msg := err.Error()
	if code == codes.Internal {
		msg = "internal error"
	}

	st := status.New(code, msg)
	detailed, derr := st.WithDetails(&errdetails.ErrorInfo{
		Reason: vault.Reason(err),
		Domain: errorDomain,
	})
	if derr != nil {
		return st
	}
	return detailed
}
