package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/cadence/pkg/models"
	"github.com/dukex/cadence/pkg/services"
)

// MockScheduleService is a mock of the schedule operations the worker uses.
type MockScheduleService struct {
	mock.Mock
}

func (m *MockScheduleService) FetchByID(ctx context.Context, id string) (*models.Schedule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Schedule), args.Error(1)
}

func (m *MockScheduleService) GetSchedulesToRun(ctx context.Context, limit int) ([]*models.Schedule, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Schedule), args.Error(1)
}

func (m *MockScheduleService) MarkScheduleDispatched(ctx context.Context, id string, dispatchedAt time.Time) (*models.Schedule, error) {
	args := m.Called(ctx, id, dispatchedAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Schedule), args.Error(1)
}

func (m *MockScheduleService) UpdateScheduleAfterRun(ctx context.Context, schedule *models.Schedule) (*models.Schedule, error) {
	args := m.Called(ctx, schedule)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Schedule), args.Error(1)
}

func (m *MockScheduleService) ExpireSchedules(ctx context.Context) (int64, error) {
	args := m.Called(ctx)

	return args.Get(0).(int64), args.Error(1)
}

// MockRunService is a mock of the run operations the worker uses.
type MockRunService struct {
	mock.Mock
}

func (m *MockRunService) CreateRun(ctx context.Context, req *services.CreateRunRequest) (*models.Run, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Run), args.Error(1)
}

// MockLocker is a mock implementation of lock.Locker interface.
type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) Acquire(ctx context.Context) (bool, error) {
	args := m.Called(ctx)

	return args.Bool(0), args.Error(1)
}

func (m *MockLocker) Release(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
