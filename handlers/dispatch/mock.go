package dispatch

import (
	"context"

	"github.com/RetentionML/decisionflow/pkg/featurecache"
	"github.com/stretchr/testify/mock"
)

type MockModelCaller struct {
	mock.Mock
}

func (m *MockModelCaller) Infer(ctx context.Context, replica *Replica, vector *featurecache.FeatureVector) (float64, error) {
	args := m.Called(ctx, replica, vector)
	return args.Get(0).(float64), args.Error(1)
}
