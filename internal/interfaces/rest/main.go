package rest

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echo_middleware "github.com/labstack/echo/v4/middleware"
	infra "github.com/pot-code/training-progress/internal/infrastructure"
	"github.com/pot-code/training-progress/internal/infrastructure/auth"
	"github.com/pot-code/training-progress/internal/infrastructure/driver"
	"github.com/pot-code/training-progress/internal/infrastructure/validate"
	"github.com/pot-code/training-progress/internal/interfaces/rest/handler"
	"github.com/pot-code/training-progress/internal/interfaces/rest/middleware"
	"github.com/pot-code/training-progress/internal/progress"
	"go.elastic.co/apm/module/apmechov4"
	"go.uber.org/zap"
)

// Serve create http transport server and block until it stops
func Serve(
	conn driver.ITransactionalDB,
	kv driver.KeyValueDB,
	option *infra.AppConfig,
	ProgressUseCase progress.UseCase,
	logger *zap.Logger,
) error {
	app := NewApp(conn, kv, option, ProgressUseCase, logger)
	printRoutes(app, logger)
	return app.Start(fmt.Sprintf("%s:%d", option.Host, option.Port))
}

// NewApp wire middlewares and routes, kv may be nil
func NewApp(
	conn driver.ITransactionalDB,
	kv driver.KeyValueDB,
	option *infra.AppConfig,
	ProgressUseCase progress.UseCase,
	logger *zap.Logger,
) *echo.Echo {
	var (
		app       = echo.New()
		validator = validate.NewValidator()
		websocket = infra.NewWebsocket()
		jwtUtil   = auth.NewJWTUtil(option.Security.JWTMethod,
			option.Security.JWTSecret,
			option.Security.TokenName,
			option.SessionTimeout)
		verifyOption = new(middleware.ValidateTokenOption)
	)
	app.HideBanner = true
	if kv != nil {
		verifyOption.InBlackList = func(ctx context.Context, token string) (bool, error) {
			return kv.Exists(ctx, token)
		}
	}
	var (
		jwtMiddleware     = middleware.VerifyToken(jwtUtil, verifyOption)
		refreshMiddleware = middleware.RefreshToken(jwtUtil)
		skipProbes        = func(e echo.Context) bool {
			return strings.HasPrefix(e.Request().RequestURI, "/healthz")
		}
	)

	registerLivenessProbe(app, conn, kv)
	if option.Env == infra.EnvDevelopment {
		registerProfileEndpoints(app)

		app.Use(middleware.Logging(logger, &middleware.LoggingConfig{
			Skipper: skipProbes,
		}))
	}
	app.Use(middleware.ErrorHandling(
		&middleware.ErrorHandlingOption{
			Handler: func(c echo.Context, err error) {
				traceID := c.Response().Header().Get(echo.HeaderXRequestID)
				code, body := handler.MapError(err, traceID)
				c.JSON(code, body)

				fields := []zap.Field{zap.String("trace.id", traceID), zap.Int("http.response.status_code", code)}
				if code >= http.StatusInternalServerError {
					logger.Error(err.Error(), fields...)
				} else {
					logger.Debug(err.Error(), fields...)
				}
			},
		},
	))
	app.Use(echo_middleware.Secure())
	if option.DevOP.APM {
		app.Use(apmechov4.Middleware())
	}
	app.Use(echo_middleware.CORS())
	app.Use(middleware.AbortRequest(&middleware.AbortRequestOption{
		Timeout: option.RequestTimeout,
		Skipper: func(e echo.Context) bool {
			return skipProbes(e) || strings.HasSuffix(e.Path(), "/ws/events")
		},
	}))

	var (
		ProgressHandler = handler.NewProgressHandler(ProgressUseCase, jwtUtil, validator)
		SessionHandler  = handler.NewSessionHandler(jwtUtil, kv)
	)
	groups := []*apiGroup{
		{
			prefix:      "/session",
			middlewares: []echo.MiddlewareFunc{jwtMiddleware},
			routes: []*route{
				{"DELETE", "", SessionHandler.HandleSignOut, nil},
			},
		},
		{
			prefix:      "/trainings",
			middlewares: []echo.MiddlewareFunc{jwtMiddleware, refreshMiddleware},
			routes: []*route{
				{"POST", "/:training_id/content/:content_id/complete", ProgressHandler.HandleMarkContentCompleted, nil},
				{"POST", "/:training_id/quiz", ProgressHandler.HandleCompleteTraining, nil},
				{"GET", "/:training_id/progress", ProgressHandler.HandleGetProgress, nil},
				{"GET", "/:training_id/content", ProgressHandler.HandleListContent, nil},
			},
		},
		{
			prefix:      "/progress",
			middlewares: []echo.MiddlewareFunc{jwtMiddleware, refreshMiddleware},
			routes: []*route{
				{"GET", "", ProgressHandler.HandleListProgress, nil},
			},
		},
	}
	if kv != nil {
		EventsHandler := handler.NewEventsHandler(kv, jwtUtil, option.Progress.EventChannel, websocket.WriteWait())
		groups = append(groups, &apiGroup{
			prefix:      "/ws",
			middlewares: []echo.MiddlewareFunc{jwtMiddleware},
			routes: []*route{
				{"GET", "/events", websocket.WithHeartbeat(EventsHandler.HandleEvents), nil},
			},
		})
	}

	createEndpoint(app,
		&endpoint{
			apiVersion:  "api/v1",
			middlewares: []echo.MiddlewareFunc{echo_middleware.RequestID(), middleware.SetTraceLogger(logger)},
			groups:      groups,
		})
	return app
}

func printRoutes(app *echo.Echo, logger *zap.Logger) {
	for _, route := range app.Routes() {
		if !strings.HasPrefix(route.Name, "github.com/labstack/echo") {
			logger.Info("Registered route", zap.String("method", route.Method), zap.String("path", route.Path))
		}
	}
}

func registerLivenessProbe(app *echo.Echo, db driver.ITransactionalDB, kv driver.KeyValueDB) {
	app.GET("/healthz", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			return c.NoContent(http.StatusServiceUnavailable)
		}
		if kv != nil {
			if err := kv.Ping(ctx); err != nil {
				return c.NoContent(http.StatusServiceUnavailable)
			}
		}
		return c.NoContent(http.StatusOK)
	})
}

func registerProfileEndpoints(app *echo.Echo) {
	expvarHandler := expvar.Handler()
	app.GET("/debug/vars", func(c echo.Context) error {
		expvarHandler.ServeHTTP(c.Response().Writer, c.Request())
		return nil
	})
	app.GET("/debug/pprof/", func(c echo.Context) error {
		pprof.Index(c.Response().Writer, c.Request())
		return nil
	})
	app.GET("/debug/pprof/:name", func(c echo.Context) error {
		switch c.Param("name") {
		case "cmdline":
			pprof.Cmdline(c.Response().Writer, c.Request())
		case "profile":
			pprof.Profile(c.Response().Writer, c.Request())
		case "symbol":
			pprof.Symbol(c.Response().Writer, c.Request())
		case "trace":
			pprof.Trace(c.Response().Writer, c.Request())
		default:
			pprof.Handler(c.Param("name")).ServeHTTP(c.Response().Writer, c.Request())
		}
		return nil
	})
}
