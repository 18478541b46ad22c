package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RetentionML/decisionflow/handlers/decision"
	"github.com/RetentionML/decisionflow/handlers/dispatch"
	"github.com/RetentionML/decisionflow/pkg/configs"
	"github.com/RetentionML/decisionflow/pkg/featurecache"
	"github.com/RetentionML/decisionflow/pkg/logger"
	"github.com/RetentionML/decisionflow/pkg/metrics"
	kafka "github.com/segmentio/kafka-go"
)

const kafkaWriteErr = "kafka-write-error"

var (
	kafkaWriter *kafka.Writer
)

// Record is the finalized (request, features, score, action) tuple handed to
// the feedback boundary after the response has been returned.
type Record struct {
	TrackingID     string                               `json:"tracking_id"`
	EntityKey      string                               `json:"entity_key"`
	Model          string                               `json:"model"`
	Features       map[string]featurecache.FeatureValue `json:"features"`
	Score          float64                              `json:"score"`
	ModelVersion   string                               `json:"model_version"`
	Action         string                               `json:"action"`
	Confidence     string                               `json:"confidence"`
	RuleSetVersion uint64                               `json:"rule_set_version"`
	Degraded       bool                                 `json:"degraded"`
	LatencyMs      int64                                `json:"latency_ms"`
	At             time.Time                            `json:"at"`
}

// InitFeedbackEmitter initializes the Kafka writer for feedback records.
func InitFeedbackEmitter(appConfigs *configs.AppConfigs) {
	bootstrapServers := appConfigs.Configs.KafkaBootstrapServers
	if bootstrapServers == "" {
		logger.Info("Kafka bootstrap servers not configured, feedback emission disabled")
		return
	}

	if topic := appConfigs.Configs.KafkaFeedbackTopic; topic != "" {
		kafkaWriter = &kafka.Writer{
			Addr:         kafka.TCP(bootstrapServers),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			Async:        true,
		}
		logger.Info(fmt.Sprintf("Kafka feedback writer initialised for topic: %s", topic))
	}

	logger.Info("Feedback emitter initialised")
}

// Emit hands the finalized tuple to Kafka fire-and-forget. Failures are
// logged and counted, never propagated: the response has already been
// returned by the time this runs.
func Emit(record *Record) {
	if kafkaWriter == nil || record == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Sprintf("Panic recovered while emitting feedback: %v", r), nil)
		}
	}()

	data, err := json.Marshal(record)
	metricTags := []string{"model", record.Model}
	if err != nil {
		logger.Error("Error marshalling feedback record:", err)
		metrics.Count("decisionflow.feedback.error", 1, append(metricTags, "error-type", "json-marshal-error"))
		return
	}

	if err := kafkaWriter.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(record.EntityKey),
		Value: data,
	}); err != nil {
		logger.Error("Error sending feedback record to Kafka:", err)
		metrics.Count("decisionflow.feedback.error", 1, append(metricTags, "error-type", kafkaWriteErr))
		return
	}

	metrics.Count("decisionflow.feedback.emitted", 1, metricTags)
}

// BuildRecord assembles the feedback tuple from the request's working data.
func BuildRecord(trackingID, entityKey, model string, vector *featurecache.FeatureVector,
	result *dispatch.InferenceResult, d decision.Decision, degraded bool, latency time.Duration) *Record {
	record := &Record{
		TrackingID:     trackingID,
		EntityKey:      entityKey,
		Model:          model,
		Action:         d.Action,
		Confidence:     d.Confidence,
		RuleSetVersion: d.RuleSetVersion,
		Degraded:       degraded,
		LatencyMs:      latency.Milliseconds(),
		At:             time.Now(),
	}
	if vector != nil {
		record.Features = vector.Values
	}
	if result != nil {
		record.Score = result.Score
		record.ModelVersion = result.ModelVersion
	}
	return record
}

func CloseFeedbackEmitter() {
	if kafkaWriter != nil {
		if err := kafkaWriter.Close(); err != nil {
			logger.Error("Error closing Kafka feedback writer:", err)
		}
	}
}
