package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/Gianluca27/turno-facil-sub000/internal/infra"
	"github.com/Gianluca27/turno-facil-sub000/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// Health returns a JSON health check response.
// Postgres is required; Redis and Mongo are reported when configured (nil means disabled).
// The gateway breaker state and the parked refund count are informational and
// never fail the check.
func Health(db *gorm.DB, rdb *redis.Client, mongoClient *mongo.Client, gatewayCB *infra.CircuitBreaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		dbStatus := "connected"
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(ctx) != nil {
			dbStatus = "error"
		}

		redisStatus := "disabled"
		var parkedRefunds int64
		if rdb != nil {
			redisStatus = "connected"
			if rdb.Ping(ctx).Err() != nil {
				redisStatus = "error"
			} else {
				parkedRefunds, _ = worker.DLQLength(ctx, rdb, worker.QueueGatewayRefunds)
			}
		}

		mongoStatus := "disabled"
		if mongoClient != nil {
			mongoStatus = "connected"
			if mongoClient.Ping(ctx, nil) != nil {
				mongoStatus = "error"
			}
		}

		gatewayStatus := "disabled"
		if gatewayCB != nil {
			gatewayStatus = gatewayCB.State().String()
		}

		status := http.StatusOK
		if dbStatus != "connected" || redisStatus == "error" || mongoStatus == "error" {
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, gin.H{
			"ok":      status == http.StatusOK,
			"db":      dbStatus,
			"redis":   redisStatus,
			"mongo":   mongoStatus,
			"gateway": gatewayStatus,

			// gateway refunds waiting for manual reconciliation
			"parked_refunds": parkedRefunds,
		})
	}
}
