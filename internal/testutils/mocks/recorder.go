// Package mocks holds testify mocks for the recorder collaborators.
package mocks

import (
	"context"

	"github.com/srg/pbit/internal/recorder"
	"github.com/stretchr/testify/mock"
)

// MockSender is a mock recorder.Sender
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, batch recorder.Batch) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}

// MockSessionContext is a mock recorder.SessionContext
type MockSessionContext struct {
	mock.Mock
}

func (m *MockSessionContext) BearerToken() string {
	return m.Called().String(0)
}

func (m *MockSessionContext) ClassroomID() string {
	return m.Called().String(0)
}

// NewReadySession returns a session context that always yields token and classroom
func NewReadySession(token, classroom string) *MockSessionContext {
	m := &MockSessionContext{}
	m.On("BearerToken").Return(token).Maybe()
	m.On("ClassroomID").Return(classroom).Maybe()
	return m
}
