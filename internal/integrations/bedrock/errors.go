package bedrock

import (
	"errors"
	"fmt"
	"net"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

var transientCodes = map[string]bool{
	"ThrottlingException":         true,
	"ServiceUnavailableException": true,
	"ModelTimeoutException":       true,
	"ModelNotReadyException":      true,
	"InternalServerException":     true,
	"TooManyRequestsException":    true,
	"RequestTimeout":              true,
}

// Error wraps a failed Bedrock call and records whether it is worth retrying.
type Error struct {
	Op        string
	Code      string
	transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("bedrock: %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("bedrock: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the failure is throttling, a server-side fault,
// or a connection that failed or timed out.
func (e *Error) Transient() bool { return e.transient }

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	e := &Error{Op: op, Err: err}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		e.Code = ae.ErrorCode()
		e.transient = transientCodes[e.Code] || ae.ErrorFault() == smithy.FaultServer
		return e
	}
	var sendErr *smithyhttp.RequestSendError
	var netErr net.Error
	e.transient = errors.As(err, &sendErr) || (errors.As(err, &netErr) && netErr.Timeout())
	return e
}

func isValidation(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ValidationException"
}
