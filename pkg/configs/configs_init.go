package configs

import (
	"log"

	"github.com/spf13/viper"
)

func InitConfig(appConfigs *AppConfigs) {
	staticConfig := appConfigs.GetStaticConfig()
	cfg, ok := staticConfig.(*Configs)
	if !ok {
		log.Fatal("Failed to cast static config to *Configs")
	}

	// Manually bind environment variables to mapstructure keys
	// This ensures proper mapping from env vars to struct fields
	bindEnvVars()
	setDefaults()

	if err := viper.Unmarshal(cfg); err != nil {
		log.Fatalf("Failed to unmarshal config from environment: %v", err)
	}

	log.Println("Configuration loaded from environment variables")
}

func bindEnvVars() {
	// Application config
	viper.BindEnv("app_env", "APP_ENV")
	viper.BindEnv("app_log_level", "APP_LOG_LEVEL")
	viper.BindEnv("app_name", "APP_NAME")
	viper.BindEnv("app_port", "APP_PORT")

	// Telegraf config
	viper.BindEnv("metrics_sampling_rate", "METRICS_SAMPLING_RATE")
	viper.BindEnv("telegraf_host", "TELEGRAF_HOST")
	viper.BindEnv("telegraf_port", "TELEGRAF_PORT")

	// Feature cache config
	viper.BindEnv("featureCache_capacity", "FEATURE_CACHE_CAPACITY")
	viper.BindEnv("featureCache_ttlSec", "FEATURE_CACHE_TTL_SEC")
	viper.BindEnv("featureCache_shards", "FEATURE_CACHE_SHARDS")

	// Latency budget config
	viper.BindEnv("budget_defaultDeadlineMs", "BUDGET_DEFAULT_DEADLINE_MS")
	viper.BindEnv("budget_maxDeadlineMs", "BUDGET_MAX_DEADLINE_MS")
	viper.BindEnv("budget_responseGraceMs", "BUDGET_RESPONSE_GRACE_MS")
	viper.BindEnv("budget_decisionFloorMs", "BUDGET_DECISION_FLOOR_MS")
	viper.BindEnv("budget_featurePercent", "BUDGET_FEATURE_PERCENT")
	viper.BindEnv("budget_inferencePercent", "BUDGET_INFERENCE_PERCENT")

	// Dispatcher config
	viper.BindEnv("dispatcher_ewmaAlpha", "DISPATCHER_EWMA_ALPHA")
	viper.BindEnv("dispatcher_maxRetries", "DISPATCHER_MAX_RETRIES")
	viper.BindEnv("dispatcher_degradedAfter", "DISPATCHER_DEGRADED_AFTER")
	viper.BindEnv("dispatcher_unavailableAfter", "DISPATCHER_UNAVAILABLE_AFTER")
	viper.BindEnv("dispatcher_canaryRampSec", "DISPATCHER_CANARY_RAMP_SEC")

	// Model server client config
	viper.BindEnv("modelServer_plainText", "MODEL_SERVER_PLAINTEXT")
	viper.BindEnv("modelServer_deadlineMs", "MODEL_SERVER_DEADLINE_MS")

	// Kafka feedback config
	viper.BindEnv("kafka_bootstrapServers", "KAFKA_BOOTSTRAP_SERVERS")
	viper.BindEnv("kafka_feedbackTopic", "KAFKA_FEEDBACK_TOPIC")

	// ETCD config
	viper.BindEnv("etcd_watcherEnabled", "ETCD_WATCHER_ENABLED")
	viper.BindEnv("etcd_server", "ETCD_SERVER")
	viper.BindEnv("etcd_username", "ETCD_USERNAME")
	viper.BindEnv("etcd_password", "ETCD_PASSWORD")
}

func setDefaults() {
	viper.SetDefault("app_log_level", "INFO")
	viper.SetDefault("app_port", 8080)
	viper.SetDefault("metrics_sampling_rate", "1.0")

	viper.SetDefault("featureCache_capacity", 100000)
	viper.SetDefault("featureCache_ttlSec", 3600)
	viper.SetDefault("featureCache_shards", 64)

	viper.SetDefault("budget_defaultDeadlineMs", 100)
	viper.SetDefault("budget_maxDeadlineMs", 5000)
	viper.SetDefault("budget_responseGraceMs", 5)
	viper.SetDefault("budget_decisionFloorMs", 1)
	viper.SetDefault("budget_featurePercent", 30)
	viper.SetDefault("budget_inferencePercent", 69)

	viper.SetDefault("dispatcher_ewmaAlpha", "0.2")
	viper.SetDefault("dispatcher_maxRetries", 1)
	viper.SetDefault("dispatcher_degradedAfter", 3)
	viper.SetDefault("dispatcher_unavailableAfter", 10)
	viper.SetDefault("dispatcher_canaryRampSec", 600)

	viper.SetDefault("modelServer_plainText", true)
	viper.SetDefault("modelServer_deadlineMs", 80)
}
