package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "tempo/pkg/domain-errors"
)

type sampleRequest struct {
	AppName string   `json:"app_name" validate:"required,appname"`
	Scopes  []string `json:"scopes" validate:"required,min=1,dive,notblank"`
	To      string   `json:"to,omitempty" validate:"omitempty,email"`
	Phone   string   `validate:"omitempty,e164"`
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, Validate(sampleRequest{AppName: "google-calendar", Scopes: []string{"calendar"}}))
	})

	t.Run("missing app name", func(t *testing.T) {
		err := Validate(sampleRequest{Scopes: []string{"calendar"}})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.EqualError(t, err, "app_name is required")
	})

	t.Run("bad app name", func(t *testing.T) {
		err := Validate(sampleRequest{AppName: "Google Calendar", Scopes: []string{"calendar"}})
		assert.EqualError(t, err, "app_name must be a lowercase app name")
	})

	t.Run("bad email", func(t *testing.T) {
		err := Validate(sampleRequest{AppName: "smtp-email", Scopes: []string{"messaging"}, To: "nope"})
		assert.EqualError(t, err, "to must be a valid email")
	})

	t.Run("untagged field falls back to lower case", func(t *testing.T) {
		err := Validate(sampleRequest{AppName: "twilio-sms", Scopes: []string{"messaging"}, Phone: "555"})
		assert.EqualError(t, err, "phone must be an E.164 phone number")
	})

	t.Run("blank scope", func(t *testing.T) {
		err := Validate(sampleRequest{AppName: "zoom", Scopes: []string{" "}})
		assert.EqualError(t, err, "scopes[0] must not be blank")
	})
}

func TestIsAppName(t *testing.T) {
	assert.True(t, IsAppName("s3-storage"))
	assert.False(t, IsAppName("-s3"))
	assert.False(t, IsAppName("s3--storage"))
	assert.False(t, IsAppName(""))
}
