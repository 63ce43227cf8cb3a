// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import "google.golang.org/grpc/codes"

// Status is one of the canonical gRPC status codes. It is a thin,
// name-stable re-export of google.golang.org/grpc/codes.Code so application
// code depending on grpcframe never has to import the grpc codes package
// directly.
type Status int32

const (
	StatusOK                 Status = Status(codes.OK)
	StatusCancelled          Status = Status(codes.Canceled)
	StatusUnknown            Status = Status(codes.Unknown)
	StatusInvalidArgument    Status = Status(codes.InvalidArgument)
	StatusDeadlineExceeded   Status = Status(codes.DeadlineExceeded)
	StatusNotFound           Status = Status(codes.NotFound)
	StatusAlreadyExists      Status = Status(codes.AlreadyExists)
	StatusPermissionDenied   Status = Status(codes.PermissionDenied)
	StatusUnauthenticated    Status = Status(codes.Unauthenticated)
	StatusResourceExhausted  Status = Status(codes.ResourceExhausted)
	StatusFailedPrecondition Status = Status(codes.FailedPrecondition)
	StatusAborted            Status = Status(codes.Aborted)
	StatusOutOfRange         Status = Status(codes.OutOfRange)
	StatusUnimplemented      Status = Status(codes.Unimplemented)
	StatusInternal           Status = Status(codes.Internal)
	StatusUnavailable        Status = Status(codes.Unavailable)
	StatusDataLoss           Status = Status(codes.DataLoss)
)

func (s Status) String() string {
	return codes.Code(s).String()
}

func (s Status) grpcCode() codes.Code {
	return codes.Code(s)
}

func statusFromGRPC(c codes.Code) Status {
	return Status(c)
}
