package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/RetentionML/decisionflow/pkg/configs"
	"github.com/RetentionML/decisionflow/pkg/logger"
	clientv3 "go.etcd.io/etcd/client/v3"
)

type V1 struct {
	conn               *clientv3.Client
	basePath           string
	config             interface{}
	appName            string
	WatchPathCallbacks map[string][]func() error
	mu                 sync.Mutex
	configMu           sync.RWMutex
}

func newV1Etcd(config interface{}, configs *configs.AppConfigs) Etcd {
	if configs.Configs.ApplicationName == "" || configs.Configs.ETCD_SERVER == "" {
		logger.Panic("APP_NAME or ETCD_SERVER is not set", nil)
	}
	appName := configs.Configs.ApplicationName
	etcdBasePath := basePath + appName
	servers := strings.Split(configs.Configs.ETCD_SERVER, ",")
	username := configs.Configs.ETCD_USERNAME
	password := configs.Configs.ETCD_PASSWORD

	conn, err := clientv3.New(clientv3.Config{
		Endpoints:           servers,
		Username:            username,
		Password:            password,
		DialTimeout:         connectionTimeout,
		DialKeepAliveTime:   connectionTimeout,
		PermitWithoutStream: true,
	})
	if err != nil {
		logger.Error("failed to create etcd client", err)
	}
	v1Etcd := &V1{
		conn:               conn,
		basePath:           etcdBasePath,
		config:             config,
		appName:            appName,
		WatchPathCallbacks: make(map[string][]func() error),
	}
	err = v1Etcd.UpdateConfig()
	if err != nil {
		logger.Panic("unable to create config from etcd", err)
	}
	if configs.Configs.ETCD_WATCHER_ENABLED {
		v1Etcd.WatchPrefix(context.Background(), etcdBasePath)
	}
	return v1Etcd
}

func (v *V1) GetConfigInstance() interface{} {
	v.configMu.RLock()
	defer v.configMu.RUnlock()
	return v.config
}

func (v *V1) GetBasePath() string {
	return v.basePath
}

// UpdateConfig re-reads the JSON document stored at the base path. Each
// document is decoded into a fresh instance of the registered config type and
// swapped in whole, so a consumer holding the previous instance keeps an
// unchanged snapshot.
func (v *V1) UpdateConfig() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	resp, err := v.conn.Get(ctx, v.basePath, clientv3.WithPrefix())
	if err != nil {
		logger.Error("unable to get config nodes from etcd", err)
		return err
	}
	for _, kv := range resp.Kvs {
		if string(kv.Key) != v.basePath {
			continue
		}
		fresh := newConfigInstance(v.config)
		if err := json.Unmarshal(kv.Value, fresh); err != nil {
			logger.Error("unable to parse config document from etcd", err)
			return err
		}
		v.configMu.Lock()
		v.config = fresh
		v.configMu.Unlock()
	}
	return nil
}

// newConfigInstance allocates a zero value of the registered config's
// underlying type.
func newConfigInstance(template interface{}) interface{} {
	t := reflect.TypeOf(template)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return reflect.New(t).Interface()
}

func (v *V1) WatchPrefix(ctx context.Context, prefix string) {
	watchChan := v.conn.Watch(ctx, prefix, clientv3.WithPrefix())
	go func() {
		for {
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("panic in watch prefix", fmt.Errorf("%v", r))
					}
				}()
				for watchResp := range watchChan {
					for _, event := range watchResp.Events {
						if err := v.UpdateConfig(); err != nil {
							logger.Error("unable to refresh config from etcd, not executing watch callbacks", err)
							continue
						}
						v.runCallbacks(prefix, string(event.Kv.Key))
					}
				}
			}()

			//Avoid frequent restarts on panics
			time.Sleep(5 * time.Second)
		}
	}()
}

func (v *V1) runCallbacks(prefix, changedKey string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for key, functions := range v.WatchPathCallbacks {
		watchPath := prefix + key
		if strings.HasPrefix(changedKey, watchPath) {
			for _, callback := range functions {
				if err := callback(); err != nil {
					logger.Error(fmt.Sprintf("unable to execute the callback for path %s", key), err)
				}
			}
		}
	}
}

func (v *V1) SetValue(path string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	_, err = v.conn.Put(ctx, v.basePath+path, string(data))
	return err
}

func (v *V1) IsNodeExist(path string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	resp, err := v.conn.Get(ctx, v.basePath+path, clientv3.WithCountOnly())
	if err != nil {
		return false, err
	}
	return resp.Count > 0, nil
}

// RegisterWatchPathCallback registers a callback fired whenever a key under
// basePath+path changes. An empty path watches the whole config tree.
func (v *V1) RegisterWatchPathCallback(path string, callback func() error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.WatchPathCallbacks[path] = append(v.WatchPathCallbacks[path], callback)
	return nil
}
