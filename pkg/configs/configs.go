package configs

type Configs struct {
	ApplicationEnv      string `mapstructure:"app_env"`
	ApplicationLogLevel string `mapstructure:"app_log_level"`
	ApplicationName     string `mapstructure:"app_name"`
	ApplicationPort     int    `mapstructure:"app_port"`

	//telegraf-config
	MetricsSamplingRate string `mapstructure:"metrics_sampling_rate"`
	Telegraf_Host       string `mapstructure:"telegraf_host"`
	Telegraf_Port       string `mapstructure:"telegraf_port"`

	//feature-cache-config
	FeatureCacheCapacity int `mapstructure:"featureCache_capacity"`
	FeatureCacheTTLSec   int `mapstructure:"featureCache_ttlSec"`
	FeatureCacheShards   int `mapstructure:"featureCache_shards"`

	//latency-budget-config
	DefaultDeadlineMs      int `mapstructure:"budget_defaultDeadlineMs"`
	MaxDeadlineMs          int `mapstructure:"budget_maxDeadlineMs"`
	ResponseGraceMs        int `mapstructure:"budget_responseGraceMs"`
	DecisionFloorMs        int `mapstructure:"budget_decisionFloorMs"`
	FeatureBudgetPercent   int `mapstructure:"budget_featurePercent"`
	InferenceBudgetPercent int `mapstructure:"budget_inferencePercent"`

	//dispatcher-config
	DispatcherEWMAAlpha        string `mapstructure:"dispatcher_ewmaAlpha"`
	DispatcherMaxRetries       int    `mapstructure:"dispatcher_maxRetries"`
	DispatcherDegradedAfter    int    `mapstructure:"dispatcher_degradedAfter"`
	DispatcherUnavailableAfter int    `mapstructure:"dispatcher_unavailableAfter"`
	DispatcherCanaryRampSec    int    `mapstructure:"dispatcher_canaryRampSec"`

	//model-server-client-config
	ModelServerPlainText bool `mapstructure:"modelServer_plainText"`
	ModelServerDeadline  int  `mapstructure:"modelServer_deadlineMs"`

	//kafka-feedback-config
	KafkaBootstrapServers string `mapstructure:"kafka_bootstrapServers"`
	KafkaFeedbackTopic    string `mapstructure:"kafka_feedbackTopic"`

	ETCD_WATCHER_ENABLED bool   `mapstructure:"etcd_watcherEnabled"`
	ETCD_SERVER          string `mapstructure:"etcd_server"`
	ETCD_USERNAME        string `mapstructure:"etcd_username"`
	ETCD_PASSWORD        string `mapstructure:"etcd_password"`
}

type DynamicConfigs struct {
}

type AppConfigs struct {
	Configs        Configs
	DynamicConfigs DynamicConfigs
}

func (a *AppConfigs) GetStaticConfig() interface{} {
	return &a.Configs
}

func (a *AppConfigs) GetDynamicConfig() interface{} {
	return &a.Configs
}
