// Package apps holds step definitions for installing and driving connected
// apps through the gateway's HTTP surface.
package apps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext is the subset of the scenario context these steps use.
type TestContext interface {
	POST(path string, body any) error
	GET(path string) error
	DELETE(path string) error
	GETAnonymous(path string) error
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	RememberInstance(alias, instanceID string)
	Instance(alias string) (string, error)
	SetLoginURL(u string)
	GetLoginURL() string
}

// RegisterSteps registers connected app step definitions.
func RegisterSteps(ctx *godog.ScenarioContext, tc func() TestContext) {
	steps := &appSteps{tc: tc}

	ctx.Step(`^I install "([^"]*)"$`, steps.install)
	ctx.Step(`^I install "([^"]*)" as "([^"]*)"$`, steps.installAs)
	ctx.Step(`^I get the app "([^"]*)"$`, steps.getApp)
	ctx.Step(`^I delete the app "([^"]*)"$`, steps.deleteApp)
	ctx.Step(`^I request the data of "([^"]*)"$`, steps.getAppData)
	ctx.Step(`^I send the action "([^"]*)" to "([^"]*)"$`, steps.sendAction)
	ctx.Step(`^I provision the system apps$`, steps.provisionSystemApps)
	ctx.Step(`^I remember the system app "([^"]*)" as "([^"]*)"$`, steps.rememberSystemApp)
	ctx.Step(`^I request a login URL for "([^"]*)"$`, steps.requestLoginURL)
	ctx.Step(`^the login URL should point to "([^"]*)"$`, steps.loginURLShouldPointTo)
	ctx.Step(`^the provider redirects back to "([^"]*)" with a forged state$`, steps.redirectWithForgedState)
	ctx.Step(`^the provider redirects back to "([^"]*)" with the issued state and error "([^"]*)"$`, steps.redirectWithIssuedStateAndError)
	ctx.Step(`^the company should have (\d+) "([^"]*)" apps? with status "([^"]*)"$`, steps.companyShouldHaveApps)
	ctx.Step(`^the catalog should list "([^"]*)"$`, steps.catalogShouldList)
	ctx.Step(`^the catalog should not list "([^"]*)"$`, steps.catalogShouldNotList)
}

type appSteps struct {
	tc func() TestContext
}

type instance struct {
	ID      string `json:"id"`
	AppName string `json:"app_name"`
	Status  string `json:"status"`
}

func (s *appSteps) install(ctx context.Context, appName string) error {
	return s.installAs(ctx, appName, "")
}

func (s *appSteps) installAs(_ context.Context, appName, alias string) error {
	tc := s.tc()
	if err := tc.POST("/api/apps/install/"+url.PathEscape(appName), nil); err != nil {
		return err
	}
	if alias == "" || tc.GetLastResponseStatus() != 201 {
		return nil
	}
	var inst instance
	if err := json.Unmarshal(tc.GetLastResponseBody(), &inst); err != nil {
		return fmt.Errorf("decode installed instance: %w", err)
	}
	tc.RememberInstance(alias, inst.ID)
	return nil
}

func (s *appSteps) instancePath(alias, suffix string) (string, error) {
	instanceID, err := s.tc().Instance(alias)
	if err != nil {
		return "", err
	}
	return "/api/apps/" + instanceID + suffix, nil
}

func (s *appSteps) getApp(_ context.Context, alias string) error {
	path, err := s.instancePath(alias, "")
	if err != nil {
		return err
	}
	return s.tc().GET(path)
}

func (s *appSteps) deleteApp(_ context.Context, alias string) error {
	path, err := s.instancePath(alias, "")
	if err != nil {
		return err
	}
	return s.tc().DELETE(path)
}

func (s *appSteps) getAppData(_ context.Context, alias string) error {
	path, err := s.instancePath(alias, "/data")
	if err != nil {
		return err
	}
	return s.tc().GET(path)
}

func (s *appSteps) sendAction(_ context.Context, action, alias string) error {
	path, err := s.instancePath(alias, "/process")
	if err != nil {
		return err
	}
	return s.tc().POST(path, map[string]any{"action": action, "params": map[string]any{}})
}

func (s *appSteps) provisionSystemApps(context.Context) error {
	return s.tc().POST("/api/apps/provision-system", nil)
}

func (s *appSteps) rememberSystemApp(_ context.Context, appName, alias string) error {
	list, err := s.listApps()
	if err != nil {
		return err
	}
	for _, inst := range list {
		if inst.AppName == appName {
			s.tc().RememberInstance(alias, inst.ID)
			return nil
		}
	}
	return fmt.Errorf("no %s instance installed", appName)
}

func (s *appSteps) requestLoginURL(_ context.Context, appName string) error {
	tc := s.tc()
	if err := tc.GET("/api/apps/login-url/" + url.PathEscape(appName)); err != nil {
		return err
	}
	if tc.GetLastResponseStatus() != 200 {
		return nil
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(tc.GetLastResponseBody(), &body); err != nil {
		return fmt.Errorf("decode login url: %w", err)
	}
	tc.SetLoginURL(body.URL)
	return nil
}

func (s *appSteps) loginURLShouldPointTo(_ context.Context, host string) error {
	u, err := url.Parse(s.tc().GetLoginURL())
	if err != nil {
		return fmt.Errorf("parse login url: %w", err)
	}
	if u.Host != host {
		return fmt.Errorf("login url host: expected %s but got %s", host, u.Host)
	}
	if u.Query().Get("state") == "" {
		return fmt.Errorf("login url carries no state: %s", u)
	}
	return nil
}

func (s *appSteps) redirectWithForgedState(_ context.Context, appName string) error {
	q := url.Values{"state": {"forged.state.token"}, "code": {"abc"}}
	return s.tc().GETAnonymous("/oauth/apps/" + url.PathEscape(appName) + "/redirect?" + q.Encode())
}

func (s *appSteps) redirectWithIssuedStateAndError(_ context.Context, appName, providerError string) error {
	u, err := url.Parse(s.tc().GetLoginURL())
	if err != nil {
		return fmt.Errorf("parse login url: %w", err)
	}
	q := url.Values{"state": {u.Query().Get("state")}, "error": {providerError}}
	return s.tc().GETAnonymous("/oauth/apps/" + url.PathEscape(appName) + "/redirect?" + q.Encode())
}

func (s *appSteps) listApps() ([]instance, error) {
	tc := s.tc()
	if err := tc.GET("/api/apps"); err != nil {
		return nil, err
	}
	if status := tc.GetLastResponseStatus(); status != 200 {
		return nil, fmt.Errorf("list apps: status %d", status)
	}
	var body struct {
		Apps []instance `json:"apps"`
	}
	if err := json.Unmarshal(tc.GetLastResponseBody(), &body); err != nil {
		return nil, fmt.Errorf("decode app list: %w", err)
	}
	return body.Apps, nil
}

func (s *appSteps) companyShouldHaveApps(_ context.Context, count int, appName, status string) error {
	list, err := s.listApps()
	if err != nil {
		return err
	}
	n := 0
	for _, inst := range list {
		if inst.AppName == appName && inst.Status == status {
			n++
		}
	}
	if n != count {
		return fmt.Errorf("expected %d %s apps with status %s, got %d in %+v", count, appName, status, n, list)
	}
	return nil
}

func (s *appSteps) catalogNames() ([]string, error) {
	tc := s.tc()
	if err := tc.GET("/api/apps/definitions"); err != nil {
		return nil, err
	}
	var body struct {
		Definitions []struct {
			Name string `json:"name"`
		} `json:"definitions"`
	}
	if err := json.Unmarshal(tc.GetLastResponseBody(), &body); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	names := make([]string, 0, len(body.Definitions))
	for _, d := range body.Definitions {
		names = append(names, d.Name)
	}
	return names, nil
}

func (s *appSteps) catalogShouldList(_ context.Context, appName string) error {
	names, err := s.catalogNames()
	if err != nil {
		return err
	}
	if !slices.Contains(names, appName) {
		return fmt.Errorf("catalog does not list %s: %s", appName, strings.Join(names, ", "))
	}
	return nil
}

func (s *appSteps) catalogShouldNotList(_ context.Context, appName string) error {
	names, err := s.catalogNames()
	if err != nil {
		return err
	}
	if slices.Contains(names, appName) {
		return fmt.Errorf("catalog unexpectedly lists %s", appName)
	}
	return nil
}
