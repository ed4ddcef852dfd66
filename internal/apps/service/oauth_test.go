package service

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"tempo/internal/apps/capability"
	"tempo/internal/apps/models"
	dErrors "tempo/pkg/domain-errors"
	tu "tempo/pkg/testutil"
)

func (s *GatewaySuite) TestLoginRedirectRoundTrip() {
	loginURL, err := s.service.RequestLoginURL(s.ctx, tu.TestIDs.CompanyA, calendarApp)
	s.Require().NoError(err)
	state := s.stateFrom(loginURL)

	list, err := s.service.ListAppsByName(s.ctx, tu.TestIDs.CompanyA, calendarApp)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	pendingInst := list[0]
	s.Equal(models.StatusPending, pendingInst.Status)

	s.Require().Len(s.calendar.logins, 1)
	login := s.calendar.logins[0]
	s.Equal("https://tempo.test/oauth/apps/test-calendar/redirect", login.RedirectURI)
	s.Require().NotNil(login.InstanceID)
	s.Equal(pendingInst.ID, *login.InstanceID)

	inst, err := s.service.ProcessRedirect(s.ctx, calendarApp, url.Values{"state": {state}, "code": {"abc"}})
	s.Require().NoError(err)
	s.Equal(pendingInst.ID, inst.ID)
	s.Equal(models.StatusConnected, inst.Status)
	s.Equal("acct-1", inst.Account.ID)
	s.JSONEq(`{"token":"tok-abc"}`, string(inst.Data.Payload))
	s.Equal([]models.EventType{models.EventConnected}, s.publisher.types())

	s.Run("state is single use", func() {
		_, err := s.service.ProcessRedirect(s.ctx, calendarApp, url.Values{"state": {state}, "code": {"abc"}})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidOrExpiredState))
	})
}

func (s *GatewaySuite) TestRedirectConsumedExactlyOnce() {
	loginURL, err := s.service.RequestLoginURL(s.ctx, tu.TestIDs.CompanyA, calendarApp)
	s.Require().NoError(err)
	query := url.Values{"state": {s.stateFrom(loginURL)}, "code": {"c"}}

	result := tu.RunConcurrentClassified(20, func(err error) string {
		if dErrors.HasCode(err, dErrors.CodeInvalidOrExpiredState) {
			return tu.BucketDuplicate
		}
		return ""
	}, func(int) error {
		_, err := s.service.ProcessRedirect(s.ctx, calendarApp, query)
		return err
	})

	s.Equal(int32(1), result.Successes)
	s.Equal(int32(19), result.Duplicates)
	s.Equal(int32(0), result.Errors)
}

func (s *GatewaySuite) TestMostRecentLoginWins() {
	first, err := s.service.RequestLoginURL(s.ctx, tu.TestIDs.CompanyA, calendarApp)
	s.Require().NoError(err)
	second, err := s.service.RequestLoginURL(s.ctx, tu.TestIDs.CompanyA, calendarApp)
	s.Require().NoError(err)

	_, err = s.service.ProcessRedirect(s.ctx, calendarApp, url.Values{"state": {s.stateFrom(first)}})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidOrExpiredState))

	_, err = s.service.ProcessRedirect(s.ctx, calendarApp, url.Values{"state": {s.stateFrom(second)}})
	s.Require().NoError(err)

	list, err := s.service.ListAppsByName(s.ctx, tu.TestIDs.CompanyA, calendarApp)
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *GatewaySuite) TestRedirectRejectsBadState() {
	cases := map[string]url.Values{
		"missing": {},
		"garbage": {"state": {"not-a-token"}},
	}
	for name, q := range cases {
		s.Run(name, func() {
			_, err := s.service.ProcessRedirect(s.ctx, calendarApp, q)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidOrExpiredState))
		})
	}
}

func (s *GatewaySuite) TestRedirectFailureKeepsData() {
	inst := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, calendarApp).WithData("test-calendar/v1", map[string]string{"token": "old"}).Build(), false)
	loginURL, err := s.service.RequestLoginURLForInstance(s.ctx, tu.TestIDs.CompanyA, inst.ID)
	s.Require().NoError(err)
	s.calendar.redirect = func(context.Context, capability.RedirectRequest) (*capability.Connection, error) {
		return nil, errors.New("invalid_grant")
	}

	_, err = s.service.ProcessRedirect(s.ctx, calendarApp, url.Values{"state": {s.stateFrom(loginURL)}})
	s.True(dErrors.HasCode(err, "process_redirect_failed"))

	stored := s.get(tu.TestIDs.CompanyA, inst.ID)
	s.Equal(models.StatusFailed, stored.Status)
	s.Equal("authorization failed", stored.LastError)
	s.JSONEq(`{"token":"old"}`, string(stored.Data.Payload))
	s.NotContains(strings.Join(eventReasons(s.publisher), ","), "invalid_grant")
}

func (s *GatewaySuite) TestLoginURLRequiresOAuth() {
	_, err := s.service.RequestLoginURL(s.ctx, tu.TestIDs.CompanyA, storageApp)
	s.assertUnknownHandler(err)

	_, err = s.service.RequestLoginURL(s.ctx, tu.TestIDs.CompanyA, "nope")
	s.True(dErrors.HasCode(err, dErrors.CodeUnknownApp))
}

func eventReasons(p *recordingPublisher) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Reason)
	}
	return out
}
