package engine

import "fmt"

// SubStatus distinguishes failure causes that share an HTTP status code, so
// callers can tell "forbidden due to role" from "forbidden due to column"
// from "not found".
type SubStatus string

const (
	SubStatusBadRequest               SubStatus = "BadRequest"
	SubStatusAuthenticationChallenge  SubStatus = "AuthenticationChallenge"
	SubStatusAuthorizationCheckFailed SubStatus = "AuthorizationCheckFailed"
	SubStatusEntityNotFound           SubStatus = "EntityNotFound"
	SubStatusItemNotFound             SubStatus = "ItemNotFound"
	SubStatusNotSupported             SubStatus = "NotSupported"
	SubStatusConflict                 SubStatus = "Conflict"
	SubStatusDatabaseOperationFailed  SubStatus = "DatabaseOperationFailed"
	SubStatusGlobalRestDisabled       SubStatus = "GlobalRestEndpointDisabled"
	SubStatusOpenApiDocumentExists    SubStatus = "OpenApiDocumentAlreadyExists"
	SubStatusOpenApiCreationFailed    SubStatus = "OpenApiDocumentCreationFailed"
	SubStatusUnexpected               SubStatus = "UnexpectedError"
)

// MessageUnauthorizedFields is the fixed message returned when a mutation
// touches columns outside the role's permitted set.
const MessageUnauthorizedFields = "Unauthorized due to one or more fields in this mutation."

type AppError struct {
	Status    int           `json:"-"`
	SubStatus SubStatus     `json:"code"`
	Message   string        `json:"message"`
	Details   []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(status int, sub SubStatus, msg string) *AppError {
	return &AppError{Status: status, SubStatus: sub, Message: msg}
}

func BadRequestError(msg string) *AppError {
	return &AppError{Status: 400, SubStatus: SubStatusBadRequest, Message: msg}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Status: 401, SubStatus: SubStatusAuthenticationChallenge, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Status: 403, SubStatus: SubStatusAuthorizationCheckFailed, Message: msg}
}

// UnauthorizedFieldsError is the column-level denial: a structured error, not
// a silent filter.
func UnauthorizedFieldsError() *AppError {
	return &AppError{Status: 403, SubStatus: SubStatusAuthorizationCheckFailed, Message: MessageUnauthorizedFields}
}

func UnknownEntityError(name string) *AppError {
	return &AppError{
		Status:    404,
		SubStatus: SubStatusEntityNotFound,
		Message:   fmt.Sprintf("Unknown entity: %s", name),
	}
}

func NotFoundError(entity, id string) *AppError {
	return &AppError{
		Status:    404,
		SubStatus: SubStatusItemNotFound,
		Message:   fmt.Sprintf("%s with id %s not found", entity, id),
	}
}

func MethodNotAllowedError(entity, method string) *AppError {
	return &AppError{
		Status:    405,
		SubStatus: SubStatusNotSupported,
		Message:   fmt.Sprintf("%s is not supported for entity %s", method, entity),
	}
}

func ConflictError(msg string) *AppError {
	return &AppError{Status: 409, SubStatus: SubStatusConflict, Message: msg}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Status:    400,
		SubStatus: SubStatusBadRequest,
		Message:   "Validation failed",
		Details:   details,
	}
}

func DatabaseError() *AppError {
	return &AppError{
		Status:    500,
		SubStatus: SubStatusDatabaseOperationFailed,
		Message:   "Database operation failed",
	}
}

func RestDisabledError() *AppError {
	return &AppError{
		Status:    404,
		SubStatus: SubStatusGlobalRestDisabled,
		Message:   "The REST endpoint is disabled",
	}
}
