package server

import (
	"net/http"
	"time"

	"github.com/RetentionML/decisionflow/handlers/coordinator"
	"github.com/RetentionML/decisionflow/handlers/decision"
	"github.com/RetentionML/decisionflow/handlers/dispatch"
	"github.com/RetentionML/decisionflow/internal/errors"
	"github.com/RetentionML/decisionflow/pkg/featurecache"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all HTTP API routes
func RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/predict", handlePredict)

		api.POST("/features/:entity", handleNotifyFeatures)
		api.DELETE("/features/:entity", handleInvalidateFeatures)

		api.POST("/replicas", handleRegisterReplica)
		api.DELETE("/replicas/:id", handleDeregisterReplica)
		api.GET("/replicas", handleListReplicas)

		api.POST("/rulesets", handlePublishRuleSet)
		api.GET("/rulesets/active", handleActiveRuleSet)
	}
}

// handleError maps the error taxonomy to HTTP statuses
func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	c.Error(err)
	c.JSON(errorToHTTPStatus(err), gin.H{"error": err.Error()})
}

func errorToHTTPStatus(err error) int {
	switch err.(type) {
	case *errors.RequestError, *errors.ParsingError:
		return http.StatusBadRequest
	case *errors.NotFoundError:
		return http.StatusNotFound
	case *errors.StaleRuleSetError:
		return http.StatusConflict
	case *errors.NoReplicaError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handlePredict handles POST /api/v1/predict
func handlePredict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	overrides, err := toFeatureValues(req.Overrides)
	if err != nil {
		handleError(c, err)
		return
	}

	resp, err := coordinator.Instance().Predict(c.Request.Context(), &coordinator.PredictionRequest{
		EntityKey:  req.EntityKey,
		Model:      req.Model,
		Overrides:  overrides,
		DeadlineMs: req.DeadlineMs,
		TrackingID: req.TrackingID,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleNotifyFeatures handles POST /api/v1/features/:entity. Stored is
// false when the notification lost the last-write-wins race.
func handleNotifyFeatures(c *gin.Context) {
	entityKey := c.Param("entity")
	var req featureNotification
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	values, err := toFeatureValues(req.Values)
	if err != nil {
		handleError(c, err)
		return
	}
	computedAt := req.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now()
	}

	stored := featurecache.Instance().Put(entityKey, &featurecache.FeatureVector{
		Values:     values,
		ComputedAt: computedAt,
	})
	c.JSON(http.StatusOK, gin.H{"stored": stored})
}

// handleInvalidateFeatures handles DELETE /api/v1/features/:entity
func handleInvalidateFeatures(c *gin.Context) {
	entityKey := c.Param("entity")
	removed := featurecache.Instance().Delete(entityKey)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// handleRegisterReplica handles POST /api/v1/replicas
func handleRegisterReplica(c *gin.Context) {
	var req replicaRegistration
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	err := dispatch.Instance().Registry().Register(&dispatch.Replica{
		ID:           req.ID,
		ModelName:    req.Model,
		Version:      req.Version,
		Endpoint:     req.Endpoint,
		Canary:       req.Canary,
		CanaryWeight: req.CanaryWeight,
		RegisteredAt: time.Now(),
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"registered": req.ID})
}

// handleDeregisterReplica handles DELETE /api/v1/replicas/:id
func handleDeregisterReplica(c *gin.Context) {
	replicaID := c.Param("id")
	if !dispatch.Instance().Registry().Deregister(replicaID) {
		handleError(c, &errors.NotFoundError{ErrorMsg: "replica " + replicaID + " is not registered"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deregistered": replicaID})
}

// handleListReplicas handles GET /api/v1/replicas
func handleListReplicas(c *gin.Context) {
	registry := dispatch.Instance().Registry()
	views := make([]replicaView, 0)
	for _, model := range registry.Models() {
		for _, replica := range registry.Snapshot(model) {
			views = append(views, replicaView{
				ID:           replica.ID,
				Model:        replica.ModelName,
				Version:      replica.Version,
				Endpoint:     replica.Endpoint,
				Health:       replica.Health().String(),
				LatencyEWMA:  replica.LatencyEWMA(),
				Canary:       replica.Canary,
				CanaryWeight: replica.CanaryWeight,
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"replicas": views})
}

// handlePublishRuleSet handles POST /api/v1/rulesets
func handlePublishRuleSet(c *gin.Context) {
	var rs decision.RuleSet
	if err := c.ShouldBindJSON(&rs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := decision.Instance().Publish(&rs); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": rs.Version})
}

// handleActiveRuleSet handles GET /api/v1/rulesets/active
func handleActiveRuleSet(c *gin.Context) {
	c.JSON(http.StatusOK, decision.Instance().Current())
}
