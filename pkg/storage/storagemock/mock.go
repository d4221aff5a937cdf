package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/techbridge/techbridge/pkg/storage"
	"github.com/techbridge/techbridge/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSession(ctx context.Context, account string) (types.Session, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(types.Session), args.Error(1)
}

func (m *MockDatabase) SetSession(ctx context.Context, account string, session types.Session) error {
	args := m.Called(ctx, account, session)
	return args.Error(0)
}

func (m *MockDatabase) DeleteSession(ctx context.Context, account string) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockDatabase) GetFilterReset(ctx context.Context, udid string) (time.Time, error) {
	args := m.Called(ctx, udid)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockDatabase) SetFilterReset(ctx context.Context, udid string, at time.Time) error {
	args := m.Called(ctx, udid, at)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
