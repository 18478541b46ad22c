package etcd

import (
	"sync"
	"time"
)

const (
	basePath          = "/config/decisionflow/"
	connectionTimeout = 30 * time.Second
)

var (
	once sync.Once
)

// Etcd is the dynamic-configuration plane. Documents are stored as JSON under
// basePath/<appName>/<node>; watchers fire registered callbacks on change.
type Etcd interface {
	GetConfigInstance() interface{}
	GetBasePath() string
	UpdateConfig() error
	SetValue(path string, value interface{}) error
	IsNodeExist(path string) (bool, error)
	RegisterWatchPathCallback(path string, callback func() error) error
}
