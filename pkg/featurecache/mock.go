package featurecache

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockFeatureCache struct {
	mock.Mock
}

func (m *MockFeatureCache) Get(entityKey string) (*FeatureVector, time.Duration, error) {
	args := m.Called(entityKey)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).(*FeatureVector), args.Get(1).(time.Duration), args.Error(2)
}

func (m *MockFeatureCache) Put(entityKey string, vector *FeatureVector) bool {
	args := m.Called(entityKey, vector)
	return args.Get(0).(bool)
}

func (m *MockFeatureCache) Delete(entityKey string) bool {
	args := m.Called(entityKey)
	return args.Get(0).(bool)
}

func (m *MockFeatureCache) EntryCount() int64 {
	args := m.Called()
	return args.Get(0).(int64)
}
