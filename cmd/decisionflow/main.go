package main

import (
	"fmt"
	"strconv"
	"time"

	handlerConfig "github.com/RetentionML/decisionflow/handlers/config"
	"github.com/RetentionML/decisionflow/handlers/coordinator"
	"github.com/RetentionML/decisionflow/handlers/decision"
	"github.com/RetentionML/decisionflow/handlers/dispatch"
	extFeedback "github.com/RetentionML/decisionflow/handlers/external/feedback"
	extModelServer "github.com/RetentionML/decisionflow/handlers/external/modelserver"
	"github.com/RetentionML/decisionflow/internal/server"
	"github.com/RetentionML/decisionflow/pkg/configs"
	"github.com/RetentionML/decisionflow/pkg/etcd"
	"github.com/RetentionML/decisionflow/pkg/featurecache"
	"github.com/RetentionML/decisionflow/pkg/logger"
	"github.com/RetentionML/decisionflow/pkg/metrics"
	"github.com/spf13/viper"
	_ "go.uber.org/automaxprocs"
)

var AppConfigs configs.AppConfigs

func main() {
	viper.AutomaticEnv()
	viper.SetConfigName("application") // file name without .env
	viper.SetConfigType("env")         // file type
	viper.AddConfigPath(".")           // directory

	err := viper.ReadInConfig()
	if err != nil {
		fmt.Println("Error reading config file")
	}
	configs.InitConfig(&AppConfigs)
	logger.InitLogger(&AppConfigs)
	if AppConfigs.Configs.ETCD_WATCHER_ENABLED {
		etcd.Init(1, &handlerConfig.ServingConfig{}, &AppConfigs)
		err = etcd.Instance().RegisterWatchPathCallback("", coordinator.ReloadServingConfig)
		if err != nil {
			logger.Error("Error registering watch path callback for serving config", err)
		}
	}
	metrics.InitMetrics(&AppConfigs)
	featurecache.Init(1,
		AppConfigs.Configs.FeatureCacheCapacity,
		AppConfigs.Configs.FeatureCacheShards,
		AppConfigs.Configs.FeatureCacheTTLSec)
	extModelServer.InitModelServerClient(&AppConfigs)
	dispatch.InitDispatcher(dispatch.NewRegistry(), extModelServer.Instance(), dispatcherConfig(&AppConfigs))
	decision.InitRuleEngine(activeRuleSet())
	extFeedback.InitFeedbackEmitter(&AppConfigs)
	coordinator.InitPredictHandler(&AppConfigs)
	server.InitServer(&AppConfigs)
}

func dispatcherConfig(appConfigs *configs.AppConfigs) dispatch.Config {
	alpha, err := strconv.ParseFloat(appConfigs.Configs.DispatcherEWMAAlpha, 64)
	if err != nil {
		logger.Panic("Error parsing dispatcher EWMA alpha", err)
	}
	return dispatch.Config{
		EWMAAlpha:        alpha,
		MaxRetries:       appConfigs.Configs.DispatcherMaxRetries,
		DegradedAfter:    int32(appConfigs.Configs.DispatcherDegradedAfter),
		UnavailableAfter: int32(appConfigs.Configs.DispatcherUnavailableAfter),
		CanaryRampWindow: time.Duration(appConfigs.Configs.DispatcherCanaryRampSec) * time.Second,
	}
}

// activeRuleSet prefers a rule set carried in the etcd serving config
// document; without one the engine starts on the seeded churn rules.
func activeRuleSet() *decision.RuleSet {
	if !AppConfigs.Configs.ETCD_WATCHER_ENABLED {
		return nil
	}
	servingConfig, ok := etcd.Instance().GetConfigInstance().(*handlerConfig.ServingConfig)
	if !ok || servingConfig.RuleSet == nil {
		return nil
	}
	if err := handlerConfig.SetServingConfig(servingConfig); err != nil {
		logger.Error("Error applying serving config from etcd at startup", err)
		return nil
	}
	return servingConfig.RuleSet
}
