package sandwich

import (
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/WelcomerTeam/Sandwich-Transport/gateway"
	"github.com/WelcomerTeam/Sandwich-Transport/pkg/accumulator"
	"github.com/WelcomerTeam/Sandwich-Transport/rest"
	"github.com/WelcomerTeam/Sandwich-Transport/sandwichjson"
	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gotils_strconv "github.com/savsgio/gotils/strconv"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	httpReadTimeout  = 10 * time.Second
	httpWriteTimeout = 10 * time.Second
)

// RestResponse is the response when returning rest requests
type RestResponse struct {
	Response any    `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
	Success  bool   `json:"success"`
}

// Number of event samples included in a status response.
const statusEventSamples = 60

type StatusResponse struct {
	StartTime       time.Time             `json:"start_time"`
	Identifier      string                `json:"identifier"`
	Version         string                `json:"version"`
	Shards          []ShardStatusResponse `json:"shards"`
	Events          []accumulator.Sample  `json:"events"`
	EventsPerSecond float64               `json:"events_per_second"`
	Uptime          int64                 `json:"uptime"`
	ShardCount      int32                 `json:"shard_count"`
	Ready           bool                  `json:"ready"`
}

type ShardStatusResponse struct {
	Status        gateway.ShardStatus `json:"status"`
	LatencyMS     int64               `json:"latency_ms"`
	PendingGuilds int                 `json:"pending_guilds"`
	ShardID       int32               `json:"shard_id"`
	Ready         bool                `json:"ready"`
}

func (sg *Sandwich) newRouter() *router.Router {
	r := router.New()

	r.GET("/healthz", sg.handleHealth)
	r.GET("/api/status", sg.handleStatus)
	r.GET("/api/buckets", sg.handleBuckets)
	r.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))

	return r
}

func (sg *Sandwich) startHTTP(host string) error {
	listener, err := net.Listen("tcp", host)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", host, err)
	}

	logger := sg.Logger.With().Str("service", "http").Logger()
	handler := sg.newRouter().Handler

	sg.httpServer = &fasthttp.Server{
		Name:         "sandwich",
		ReadTimeout:  httpReadTimeout,
		WriteTimeout: httpWriteTimeout,
		Logger:       &logger,
		Handler: func(ctx *fasthttp.RequestCtx) {
			start := time.Now()

			handler(ctx)

			logger.Debug().
				Str("remote", ctx.RemoteAddr().String()).
				Str("method", gotils_strconv.B2S(ctx.Method())).
				Str("path", gotils_strconv.B2S(ctx.Path())).
				Int("status", ctx.Response.StatusCode()).
				Dur("took", time.Since(start)).
				Msg("Handled request")
		},
	}

	sg.Logger.Info().Str("host", listener.Addr().String()).Msg("Serving http")

	sg.wg.Add(1)

	go func(server *fasthttp.Server) {
		defer sg.wg.Done()

		if err := server.Serve(listener); err != nil {
			sg.Logger.Error().Err(err).Msg("Failed to serve http server")
		}
	}(sg.httpServer)

	return nil
}

func (sg *Sandwich) handleHealth(ctx *fasthttp.RequestCtx) {
	if !sg.Ready() {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		ctx.SetBodyString("not ready")

		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString("ok")
}

func (sg *Sandwich) handleStatus(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, RestResponse{Success: true, Response: sg.Status()})
}

func (sg *Sandwich) handleBuckets(ctx *fasthttp.RequestCtx) {
	registry := sg.Registry()
	if registry == nil {
		writeJSON(ctx, fasthttp.StatusServiceUnavailable, RestResponse{Error: "rest registry is not running"})

		return
	}

	buckets := registry.Buckets()
	if buckets == nil {
		buckets = []rest.BucketState{}
	}

	writeJSON(ctx, fasthttp.StatusOK, RestResponse{Success: true, Response: buckets})
}

// Status returns a snapshot of every shard.
func (sg *Sandwich) Status() StatusResponse {
	sg.mu.RLock()
	configuration := sg.configuration
	coordinator := sg.coordinator
	sg.mu.RUnlock()

	events := sg.events.LastSamples(statusEventSamples)

	status := StatusResponse{
		StartTime:       sg.StartTime,
		Version:         VERSION,
		Shards:          []ShardStatusResponse{},
		Events:          events,
		EventsPerSecond: accumulator.Avg(events) / sg.events.Interval().Seconds(),
		Ready:           sg.Ready(),
	}

	if !sg.StartTime.IsZero() {
		status.Uptime = int64(time.Since(sg.StartTime).Seconds())
	}

	if configuration != nil {
		status.Identifier = configuration.Identifier
	}

	if coordinator == nil {
		return status
	}

	status.ShardCount = coordinator.ShardCount()

	statuses := coordinator.Statuses()

	shardIDs := make([]int32, 0, len(statuses))
	for shardID := range statuses {
		shardIDs = append(shardIDs, shardID)
	}

	sort.Slice(shardIDs, func(i, j int) bool { return shardIDs[i] < shardIDs[j] })

	for _, shardID := range shardIDs {
		shard := ShardStatusResponse{
			Status:        statuses[shardID],
			PendingGuilds: coordinator.PendingGuilds(shardID),
			ShardID:       shardID,
			Ready:         coordinator.IsShardReady(shardID),
		}

		if sh, ok := coordinator.Shard(shardID); ok {
			shard.LatencyMS = sh.Latency().Milliseconds()
		}

		status.Shards = append(status.Shards, shard)
	}

	return status
}

func writeJSON(ctx *fasthttp.RequestCtx, statusCode int, response RestResponse) {
	data, err := sandwichjson.Marshal(response)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(err.Error())

		return
	}

	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json;charset=UTF-8")
	ctx.SetBody(data)
}
