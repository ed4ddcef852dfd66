package smtpemail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/textproto"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempo/internal/apps/capability"
	"tempo/internal/apps/models"
	"tempo/internal/apps/providers"
	tu "tempo/pkg/testutil"
)

type fakeMailer struct {
	mu      sync.Mutex
	checkFn func(Settings) error
	sent    []Message
	sendErr error
}

func (f *fakeMailer) Check(_ context.Context, s Settings) error {
	if f.checkFn != nil {
		return f.checkFn(s)
	}
	return nil
}

func (f *fakeMailer) Send(_ context.Context, _ Settings, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

const settingsJSON = `{"host":"smtp.example.com","port":587,"username":"u","password":"relay-password","from":"bookings@example.com"}`

func TestConfigureChecksRelay(t *testing.T) {
	m := &fakeMailer{checkFn: func(s Settings) error {
		if s.Password != "relay-password" {
			return &authError{err: errors.New("535 auth failed")}
		}
		return nil
	}}
	h := New(m)
	inst := tu.NewInstance(tu.TestIDs.CompanyA, "smtp-email").Build()

	res, err := h.ProcessRequest(context.Background(), inst, json.RawMessage(`{"action":"configure","params":`+settingsJSON+`}`))
	require.NoError(t, err)
	assert.Equal(t, models.StatusConnected, *res.Delta.Status)
	assert.Equal(t, "bookings@example.com", res.Delta.Account.ID)

	_, err = h.ProcessStaticRequest(context.Background(), json.RawMessage(
		`{"action":"validate","params":{"host":"smtp.example.com","port":587,"username":"u","password":"nope","from":"bookings@example.com"}}`))
	var appErr *capability.AppRequestError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "invalid_credentials", appErr.Code)
}

func TestSendTestEmail(t *testing.T) {
	m := &fakeMailer{}
	h := New(m)
	var s Settings
	require.NoError(t, json.Unmarshal([]byte(settingsJSON), &s))
	stored, err := providers.EncodeData(Schema, data{Settings: s})
	require.NoError(t, err)
	inst := tu.NewInstance(tu.TestIDs.CompanyA, "smtp-email").Build()
	inst.Data = *stored

	res, err := h.ProcessRequest(context.Background(), inst, json.RawMessage(`{"action":"send-test-email","params":{"to":"ada@example.com"}}`))
	require.NoError(t, err)
	require.Len(t, m.sent, 1)
	assert.Equal(t, "ada@example.com", m.sent[0].To)

	var d data
	require.NoError(t, json.Unmarshal(res.Delta.Data.Payload, &d))
	assert.Equal(t, 1, d.Sent)

	m.sendErr = errors.New("connection reset")
	_, err = h.ProcessRequest(context.Background(), inst, json.RawMessage(`{"action":"send-test-email","params":{"to":"ada@example.com"}}`))
	require.Error(t, err)
	var appErr *capability.AppRequestError
	assert.False(t, errors.As(err, &appErr))
}

func TestSendRequiresConfiguration(t *testing.T) {
	h := New(&fakeMailer{})
	_, err := h.ProcessRequest(context.Background(), tu.NewInstance(tu.TestIDs.CompanyA, "smtp-email").Build(),
		json.RawMessage(`{"action":"send-test-email","params":{"to":"ada@example.com"}}`))
	var appErr *capability.AppRequestError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "app_not_connected", appErr.Code)
}

func TestMessageStripsHeaderInjection(t *testing.T) {
	msg, err := newMessage("a@example.com", Message{To: "b@example.com", Subject: "hi\r\nBcc: evil@example.com", Body: "line1\nline2"})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.NotContains(t, raw, "\r\nBcc:")
	assert.Contains(t, raw, "b@example.com")
}

func TestRelayErrorDeclaresRejectedLogin(t *testing.T) {
	err := relayError("smtp connect", fmt.Errorf("SMTP AUTH failed: %w", &textproto.Error{Code: 535, Msg: "5.7.8 bad credentials"}))
	var aerr *authError
	assert.True(t, errors.As(err, &aerr))

	declared := classify(err)
	var appErr *capability.AppRequestError
	require.True(t, errors.As(declared, &appErr))
	assert.Equal(t, "invalid_credentials", appErr.Code)

	err = relayError("smtp connect", &textproto.Error{Code: 421, Msg: "try later"})
	assert.False(t, errors.As(err, &aerr))
	assert.False(t, errors.As(classify(err), &appErr))
}

func TestAppDataMasksPassword(t *testing.T) {
	var s Settings
	require.NoError(t, json.Unmarshal([]byte(settingsJSON), &s))
	stored, err := providers.EncodeData(Schema, data{Settings: s})
	require.NoError(t, err)
	inst := tu.NewInstance(tu.TestIDs.CompanyA, "smtp-email").Build()
	inst.Data = *stored

	out, err := New(&fakeMailer{}).ProcessAppData(context.Background(), inst)
	require.NoError(t, err)
	b, _ := json.Marshal(out)
	assert.NotContains(t, string(b), "relay-password")
}
