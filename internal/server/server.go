package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/api"
	"github.com/dgnsrekt/optionvault/internal/ws"
)

// NewRouter builds the chi router with middleware and request validation.
func NewRouter(server *Server, logger *zap.Logger) (http.Handler, error) {
	// Load OpenAPI spec for validation
	swagger, err := api.Load()
	if err != nil {
		return nil, err
	}
	swagger.Servers = nil // Allow any host

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	// Non-validated routes. Streaming endpoints stay outside Compress.
	r.Get("/openapi.yaml", openapiHandler)
	r.Get("/docs", swaggerUIHandler)
	if server.Metrics != nil {
		r.Handle("/metrics", server.Metrics.Handler())
	}
	if server.Events != nil {
		r.Get("/v1/events", server.Events.HandleSSE)
	}
	if server.Hub != nil {
		negotiate := ws.NewNegotiateHandler(logger)
		r.Get("/negotiate", negotiate.HandleNegotiate)
		r.Post("/negotiate", negotiate.HandleNegotiate)
		r.Get("/ws/prices", server.Hub.HandlePricesWS)
	}

	// API routes with OpenAPI validation
	r.Group(func(apiRouter chi.Router) {
		apiRouter.Use(middleware.Compress(5))
		apiRouter.Use(oapimiddleware.OapiRequestValidatorWithOptions(swagger, &oapimiddleware.Options{
			ErrorHandler: validationError,
		}))
		server.routes(apiRouter)
	})

	return r, nil
}

func (s *Server) routes(r chi.Router) {
	r.Get("/v1/health", s.GetServiceHealth)

	r.Get("/v1/prices", s.GetBatchPrices)
	r.Get("/v1/prices/{symbol}", s.GetPriceData)
	r.Get("/v1/prices/{symbol}/spot", s.GetPrice)
	r.Get("/v1/prices/{symbol}/aggregated", s.GetAggregatedPrice)
	r.Get("/v1/prices/{symbol}/synthetic", s.GetSyntheticPrice)
	r.Get("/v1/oracle/health", s.GetOracleHealth)
	r.Get("/v1/oracle/circuit-breaker", s.CheckCircuitBreaker)
	r.Get("/v1/assets", s.ListAssets)
	r.Get("/v1/assets/{symbol}", s.GetAsset)
	r.Get("/v1/stocks/availability", s.GetStockAvailability)

	r.Get("/v1/tokens", s.ListTokens)
	r.Get("/v1/tokens/{symbol}", s.GetToken)
	r.Get("/v1/vault/exposures", s.GetExposures)
	r.Get("/v1/accounts/{account}/balances", s.GetBalances)
	r.Get("/v1/accounts/{account}/options", s.GetUserOptions)

	r.Post("/v1/orders/fill", s.FillOrder)
	r.Post("/v1/orders/cancel", s.CancelOrder)
	r.Get("/v1/orders/{orderId}", s.GetOrderStatus)
	r.Post("/v1/options/quote", s.GetOptionPrice)
	r.Post("/v1/options/expire", s.ExpireOptions)
	r.Get("/v1/options/{id}", s.GetOption)
	r.Post("/v1/options/{id}/exercise", s.ExerciseOption)

	r.Get("/v1/risk/report", s.GetRiskReport)
	r.Get("/v1/risk/halts", s.ListHalts)
	r.Get("/v1/risk/positions/{id}", s.GetPositionHealth)
	r.Get("/v1/risk/accounts/{account}/{token}", s.GetAccountHealth)

	r.Route("/v1/admin", func(r chi.Router) {
		r.Post("/assets", s.AddAsset)
		r.Post("/assets/{symbol}/deactivate", s.DeactivateAsset)
		r.Post("/assets/{symbol}/sources", s.AddPriceSource)
		r.Post("/assets/{symbol}/sources/{sourceId}/active", s.SetSourceActive)
		r.Post("/assets/{symbol}/continuous", s.SetContinuousTrading)
		r.Post("/assets/{symbol}/refresh", s.UpdateAssetPrice)
		r.Post("/synthetic", s.BatchUpdate24x7Prices)
		r.Post("/synthetic/{symbol}", s.Update24x7Price)
		r.Put("/emergency/{symbol}", s.SetEmergencyPrice)
		r.Delete("/emergency/{symbol}", s.ClearEmergencyPrice)
		r.Post("/halts/{symbol}", s.HaltAsset)
		r.Delete("/halts/{symbol}", s.ClearHalt)
		r.Put("/tokens/{symbol}", s.SetTokenConfig)
		r.Post("/funds/credit", s.CreditAccount)
		r.Post("/reload", s.ReloadRegistry)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", maskQueryToken(r.URL.RawQuery)),
				zap.String("caller", r.Header.Get(ws.CallerHeader)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
			next.ServeHTTP(w, r)
		})
	}
}

// maskQueryToken masks the websocket access_token parameter in a query string.
func maskQueryToken(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	if token := values.Get("access_token"); token != "" {
		if i := strings.IndexByte(token, ':'); i >= 0 {
			values.Set("access_token", token[:i+1]+"****")
		} else {
			values.Set("access_token", "****")
		}
	}
	var parts []string
	for k, vs := range values {
		for _, v := range vs {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, "&")
}

func openapiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(api.OpenAPISpec)
}

func swaggerUIHandler(w http.ResponseWriter, r *http.Request) {
	html := `<!DOCTYPE html>
<html>
<head>
    <title>Option Vault API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.10.3/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5.10.3/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            SwaggerUIBundle({
                url: "/openapi.yaml",
                dom_id: '#swagger-ui',
            });
        };
    </script>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}
