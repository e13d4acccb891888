package mcp

import (
	"encoding/json"
	"errors"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/pleme-io/typemill/fileops"
	"github.com/pleme-io/typemill/lspmux"
	"github.com/pleme-io/typemill/refactor"
)

// ErrorKind enumerates the API error surface.
type ErrorKind string

const (
	KindInvalidRequest   ErrorKind = "InvalidRequest"
	KindMethodNotFound   ErrorKind = "MethodNotFound"
	KindUnsupported      ErrorKind = "Unsupported"
	KindStalePlan        ErrorKind = "StalePlan"
	KindValidationFailed ErrorKind = "ValidationFailed"
	KindLspUnavailable   ErrorKind = "LspUnavailable"
	KindTimeout          ErrorKind = "Timeout"
	KindIo               ErrorKind = "Io"
	KindInternal         ErrorKind = "Internal"
)

// code maps each kind to its JSON-RPC error code.
func (k ErrorKind) code() int64 {
	switch k {
	case KindInvalidRequest:
		return -32602
	case KindMethodNotFound:
		return -32601
	case KindStalePlan:
		return -32001
	case KindValidationFailed:
		return -32002
	case KindLspUnavailable:
		return -32003
	case KindTimeout:
		return -32004
	case KindUnsupported:
		return -32005
	case KindIo:
		return -32006
	default:
		return -32603
	}
}

// ApiError is the structured error the dispatcher returns to clients.
type ApiError struct {
	Kind    ErrorKind
	Message string
	Data    interface{}
}

func (e *ApiError) Error() string { return string(e.Kind) + ": " + e.Message }

// RPCError shapes the ApiError for the wire.
func (e *ApiError) RPCError() *jsonrpc2.Error {
	rpcErr := &jsonrpc2.Error{Code: e.code(), Message: string(e.Kind)}
	data := map[string]interface{}{"detail": e.Message}
	if e.Data != nil {
		data["info"] = e.Data
	}
	if raw, err := json.Marshal(data); err == nil {
		msg := json.RawMessage(raw)
		rpcErr.Data = &msg
	}
	return rpcErr
}

func (e *ApiError) code() int64 { return e.Kind.code() }

func apiErrorf(kind ErrorKind, message string) *ApiError {
	return &ApiError{Kind: kind, Message: message}
}

// toApiError classifies component errors into the API taxonomy.
func toApiError(err error) *ApiError {
	if err == nil {
		return nil
	}
	var api *ApiError
	if errors.As(err, &api) {
		return api
	}
	var stale *fileops.StalePlanError
	if errors.As(err, &stale) {
		return &ApiError{
			Kind:    KindStalePlan,
			Message: stale.Error(),
			Data: map[string]string{
				"path":     stale.Path,
				"expected": stale.Expected,
				"actual":   stale.Actual,
			},
		}
	}
	var vf *fileops.ValidationFailedError
	if errors.As(err, &vf) {
		return &ApiError{Kind: KindValidationFailed, Message: vf.Error(), Data: vf.Result}
	}
	var invalid *refactor.InvalidRequestError
	if errors.As(err, &invalid) {
		return apiErrorf(KindInvalidRequest, invalid.Reason)
	}
	var unsupported *refactor.UnsupportedError
	if errors.As(err, &unsupported) {
		return apiErrorf(KindUnsupported, unsupported.Reason)
	}
	if errors.Is(err, lspmux.ErrTimeout) {
		return apiErrorf(KindTimeout, err.Error())
	}
	if errors.Is(err, lspmux.ErrUnavailable) {
		return apiErrorf(KindLspUnavailable, err.Error())
	}
	return apiErrorf(KindInternal, err.Error())
}
