package e2e

import (
	"github.com/cucumber/godog"

	"tempo/e2e/steps/apps"
	"tempo/e2e/steps/common"
)

// scenarioState lets step packages bind once while the context is replaced
// before every scenario.
type scenarioState struct {
	tc *TestContext
}

func (s *scenarioState) current() *TestContext { return s.tc }

// RegisterSteps registers all step definitions
func RegisterSteps(ctx *godog.ScenarioContext, s *scenarioState) {
	common.RegisterSteps(ctx, func() common.TestContext { return s.current() })
	apps.RegisterSteps(ctx, func() apps.TestContext { return s.current() })
}
