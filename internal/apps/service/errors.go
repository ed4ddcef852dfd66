package service

import (
	"errors"
	"fmt"

	"tempo/internal/apps/capability"
	dErrors "tempo/pkg/domain-errors"
	"tempo/pkg/platform/sentinel"
)

// operation names a handler capability invocation. Unclassified handler
// failures surface under the operation's own code with a generic message.
type operation struct {
	name    string
	code    dErrors.Code
	message string
}

var (
	opProcessRequest = operation{"process_request", "process_app_request_failed", "app request failed"}
	opStaticRequest  = operation{"process_static_request", "process_static_app_request_failed", "static app request failed"}
	opFormRequest    = operation{"process_form_request", "process_form_request_failed", "form request failed"}
	opAppCall        = operation{"process_app_call", "process_app_call_failed", "app call failed"}
	opWebhook        = operation{"process_webhook", "process_webhook_failed", "webhook processing failed"}
	opRedirect       = operation{"process_redirect", "process_redirect_failed", "authorization failed"}
	opLoginURL       = operation{"request_login_url", "request_login_url_failed", "could not build login url"}
	opAppData        = operation{"get_app_data", "get_app_data_failed", "could not load app data"}
	opDelete         = operation{"on_delete", dErrors.CodeInternal, "teardown failed"}
)

// failure wraps an unclassified handler error under the operation code. The
// cause is kept for logs but never reaches the response body.
func (op operation) failure(cause error) error {
	return &dErrors.Error{Code: op.code, Message: op.message, Err: cause}
}

func (op operation) unsupported(appName string) error {
	return dErrors.New(dErrors.CodeCapabilityNotSupported,
		fmt.Sprintf("app %q does not support %s", appName, op.name))
}

// Error wrapping helpers translate sentinel errors to domain errors.

func wrapInstanceErr(err error, action string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeInstanceNotFound, "app instance not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, action)
}

func wrapCreateErr(err error, appName string) error {
	if errors.Is(err, sentinel.ErrAlreadyUsed) {
		return dErrors.New(dErrors.CodeDuplicateInstance, fmt.Sprintf("app %q is already installed", appName))
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create app instance")
}

// publicReason is the failure text safe to store on an instance and show in
// the UI.
func publicReason(err error, op operation) string {
	var appErr *capability.AppRequestError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	if dErrors.HasCode(err, dErrors.CodeHandlerTimeout) {
		return "provider did not respond in time"
	}
	return op.message
}
