package http

import "sitekv/pkg/store"

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response represents the standard API response format.
type Response struct {
	Status    Status `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// UsageResponse is returned by GET /api/{tenant}/usage.
type UsageResponse struct {
	Status Status `json:"status"`
	Tenant string `json:"tenant"`
	Bytes  int64  `json:"bytes"`
	Quota  int64  `json:"quota"`
}

// TenantsResponse is returned by GET /api/tenants.
type TenantsResponse struct {
	Status  Status              `json:"status"`
	Tenants []store.TenantUsage `json:"tenants"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewSuccessResponse() Response {
	return Response{Status: StatusSuccess}
}

func NewErrorResponse(err string, requestID string) Response {
	return Response{Status: StatusError, Error: err, RequestID: requestID}
}
