package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorString() {
	s.Run("message wins over code", func() {
		err := &Error{Code: CodeInstanceNotFound, Message: "app instance not found"}
		s.Equal("app instance not found", err.Error())
	})

	s.Run("falls back to code", func() {
		err := &Error{Code: CodeCapabilityNotSupported}
		s.Equal("unknown_handler", err.Error())
	})
}

func (s *DomainErrorsSuite) TestIsMatchesByCode() {
	a := &Error{Code: CodeDuplicateInstance, Message: "first"}
	b := &Error{Code: CodeDuplicateInstance, Message: "second"}
	s.True(errors.Is(a, b))
	s.False(errors.Is(a, &Error{Code: CodeConflict}))
	s.False(a.Is(errors.New("duplicate_instance")))

	outer := fmt.Errorf("store: %w", a)
	s.True(errors.Is(outer, &Error{Code: CodeDuplicateInstance}))
}

func (s *DomainErrorsSuite) TestWrap() {
	s.Run("first classification wins", func() {
		original := New(CodeHandlerTimeout, "handler timed out")
		wrapped := Wrap(original, CodeInternal, "process request")
		s.Equal(CodeHandlerTimeout, CodeOf(wrapped))
		s.Equal("process request", wrapped.Error())
	})

	s.Run("plain errors take the provided code", func() {
		root := errors.New("connection refused")
		wrapped := Wrap(root, CodeInternal, "load instance")
		s.Equal(CodeInternal, CodeOf(wrapped))
		s.True(errors.Is(wrapped, root))
	})
}

func (s *DomainErrorsSuite) TestHasCode() {
	s.True(HasCode(New(CodeUnknownApp, "nope"), CodeUnknownApp))
	s.False(HasCode(New(CodeUnknownApp, "nope"), CodeNotFound))
	s.False(HasCode(errors.New("plain"), CodeNotFound))
	s.False(HasCode(nil, CodeNotFound))
	s.Equal(Code(""), CodeOf(nil))
}
