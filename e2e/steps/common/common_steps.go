package common

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GET(path string) error
	GETAnonymous(path string) error
	ResponseContains(field string) bool
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers common step definitions used across features
func RegisterSteps(ctx *godog.ScenarioContext, tc func() TestContext) {
	steps := &commonSteps{tc: tc}

	// Background steps
	ctx.Step(`^the apps gateway is running$`, steps.gatewayIsRunning)

	// Generic request steps
	ctx.Step(`^I GET "([^"]*)"$`, steps.get)
	ctx.Step(`^I GET "([^"]*)" without a company$`, steps.getWithoutCompany)
	ctx.Step(`^I POST to "([^"]*)" with empty body$`, steps.postWithEmptyBody)

	// Response assertion steps
	ctx.Step(`^the response status should be (\d+)$`, steps.responseStatusShouldBe)
	ctx.Step(`^the response should contain "([^"]*)"$`, steps.responseShouldContain)
	ctx.Step(`^the response should not contain "([^"]*)"$`, steps.responseShouldNotContain)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, steps.responseFieldShouldEqual)
	ctx.Step(`^the error code should be "([^"]*)"$`, steps.errorCodeShouldBe)
}

type commonSteps struct {
	tc func() TestContext
}

func (s *commonSteps) gatewayIsRunning(context.Context) error {
	if err := s.tc().GETAnonymous("/health/live"); err != nil {
		return err
	}
	if status := s.tc().GetLastResponseStatus(); status != 200 {
		return fmt.Errorf("gateway not alive: status %d", status)
	}
	return nil
}

func (s *commonSteps) get(_ context.Context, path string) error {
	return s.tc().GET(path)
}

func (s *commonSteps) getWithoutCompany(_ context.Context, path string) error {
	return s.tc().GETAnonymous(path)
}

func (s *commonSteps) postWithEmptyBody(_ context.Context, path string) error {
	return s.tc().POST(path, map[string]any{})
}

func (s *commonSteps) responseStatusShouldBe(_ context.Context, expectedStatus int) error {
	actualStatus := s.tc().GetLastResponseStatus()
	if actualStatus != expectedStatus {
		return fmt.Errorf("expected status %d but got %d\nResponse: %s", expectedStatus, actualStatus, s.tc().GetLastResponseBody())
	}
	return nil
}

func (s *commonSteps) responseShouldContain(_ context.Context, text string) error {
	if !s.tc().ResponseContains(text) {
		return fmt.Errorf("response does not contain: %s\nResponse: %s", text, string(s.tc().GetLastResponseBody()))
	}
	return nil
}

func (s *commonSteps) responseShouldNotContain(_ context.Context, text string) error {
	if strings.Contains(string(s.tc().GetLastResponseBody()), text) {
		return fmt.Errorf("response unexpectedly contains: %s\nResponse: %s", text, string(s.tc().GetLastResponseBody()))
	}
	return nil
}

func (s *commonSteps) responseFieldShouldEqual(_ context.Context, field, expectedValue string) error {
	var data map[string]any
	if err := json.Unmarshal(s.tc().GetLastResponseBody(), &data); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	actualValue, ok := data[field]
	if !ok {
		return fmt.Errorf("field %s not found in response", field)
	}

	if fmt.Sprint(actualValue) != expectedValue {
		return fmt.Errorf("field %s: expected %s but got %v", field, expectedValue, actualValue)
	}
	return nil
}

func (s *commonSteps) errorCodeShouldBe(ctx context.Context, code string) error {
	return s.responseFieldShouldEqual(ctx, "code", code)
}
