package coordinator

import (
	"github.com/RetentionML/decisionflow/handlers/config"
	"github.com/RetentionML/decisionflow/handlers/decision"
	"github.com/RetentionML/decisionflow/internal/errors"
	"github.com/RetentionML/decisionflow/pkg/etcd"
	"github.com/RetentionML/decisionflow/pkg/logger"
)

// ReloadServingConfig re-reads the serving config document after an etcd
// change and swaps it in. A rule set carried in the document is published
// through the engine so the version-monotonic check still applies; a stale
// version is ignored rather than failing the reload.
func ReloadServingConfig() error {
	servingConfig, ok := etcd.Instance().GetConfigInstance().(*config.ServingConfig)
	if !ok {
		return &errors.ParsingError{ErrorMsg: "failed to parse serving config from etcd"}
	}
	return applyServingConfig(servingConfig)
}

func applyServingConfig(servingConfig *config.ServingConfig) error {
	if err := config.SetServingConfig(servingConfig); err != nil {
		return err
	}
	if servingConfig.RuleSet != nil {
		if err := decision.Instance().Publish(servingConfig.RuleSet); err != nil {
			if _, stale := err.(*errors.StaleRuleSetError); stale {
				logger.Info("Rule set in etcd document is not newer than active version, keeping active")
				return nil
			}
			return err
		}
	}
	return nil
}
