package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	authclient "github.com/vibast-solutions/lib-go-auth/client"
	authmiddleware "github.com/vibast-solutions/lib-go-auth/middleware"
	authlibservice "github.com/vibast-solutions/lib-go-auth/service"
	"github.com/vibast-solutions/ms-go-consultations/app/controller"
	consultationsgrpc "github.com/vibast-solutions/ms-go-consultations/app/grpc"
	"github.com/vibast-solutions/ms-go-consultations/app/middleware"
	"github.com/vibast-solutions/ms-go-consultations/app/types"
	"github.com/vibast-solutions/ms-go-consultations/config"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const healthCheckInterval = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  "Start both HTTP (Echo) and gRPC servers for the consultations service, together with the in-process meeting sweeper.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	app, cleanup := mustCreateApplication(true)
	defer cleanup()
	cfg := app.cfg

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	restored, err := app.bookings.RestoreMeetingTimers(ctx)
	if err != nil {
		logrus.WithError(err).Warn("Failed to restore meeting timers")
	} else {
		logrus.WithField("timers", restored).Info("Meeting timers restored")
	}
	go runInProcessSweep(ctx, app, cfg.Jobs.MeetingSweepInterval)

	bookingController := controller.NewBookingController(app.bookings)
	paymentController := controller.NewPaymentController(app.reconciliation)
	identity := middleware.NewIdentity(cfg.Auth.JWTSecret)

	authGRPCClient, err := authclient.NewGRPCClientFromAddr(context.Background(), cfg.InternalEndpoints.AuthGRPCAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize auth gRPC client")
	}
	defer authGRPCClient.Close()

	internalAuthService := authlibservice.NewInternalAuthService(authGRPCClient)
	echoInternalAuthMiddleware := authmiddleware.NewEchoInternalAuthMiddleware(internalAuthService)
	grpcInternalAuthMiddleware := authmiddleware.NewGRPCInternalAuthMiddleware(internalAuthService)

	healthReporter := consultationsgrpc.NewHealthReporter(app.db, cfg.App.ServiceName)
	go healthReporter.Run(ctx, healthCheckInterval)

	e := setupHTTPServer(bookingController, paymentController, identity, echoInternalAuthMiddleware, cfg.App.ServiceName)
	grpcSrv, lis := setupGRPCServer(cfg, healthReporter, grpcInternalAuthMiddleware, cfg.App.ServiceName)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	go func() {
		logrus.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
		if err := grpcSrv.Serve(lis); err != nil {
			logrus.WithError(err).Fatal("gRPC server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	grpcSrv.GracefulStop()

	logrus.Info("Server stopped")
}

// runInProcessSweep completes overdue meetings that no timer caught, e.g.
// ones started on another replica.
func runInProcessSweep(ctx context.Context, app *application, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runJob("sweep_meetings", func() error { return app.bookings.RunMeetingSweepBatch(ctx) })
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runJob("sweep_meetings", func() error { return app.bookings.RunMeetingSweepBatch(ctx) })
		}
	}
}

func setupHTTPServer(
	bookingController *controller.BookingController,
	paymentController *controller.PaymentController,
	identity *middleware.Identity,
	internalAuthMiddleware *authmiddleware.EchoInternalAuthMiddleware,
	appServiceName string,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			if v.RequestID != "" {
				fields["request_id"] = v.RequestID
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Gateways cannot present internal credentials; notifications are
	// authenticated by their signature instead.
	webhooks := e.Group("/webhooks/gateways",
		echomiddleware.RequestID(),
		echomiddleware.BodyLimit(strconv.Itoa(types.MaxNotificationBodyBytes/1024)+"K"),
	)
	webhooks.POST("/:gateway", paymentController.HandleGatewayNotification)

	requireInternal := internalAuthMiddleware.RequireInternalAccess(appServiceName)
	internal := []echo.MiddlewareFunc{middleware.RequireRequestID(), requireInternal}
	authenticated := []echo.MiddlewareFunc{middleware.RequireRequestID(), requireInternal, identity.RequireCaller()}

	e.GET("/health", paymentController.Health, internal...)

	bookings := e.Group("/bookings", authenticated...)
	bookings.POST("", bookingController.CreateBooking)
	bookings.GET("/:id", bookingController.GetBooking)
	bookings.POST("/:id/checkout", bookingController.StartCheckout)
	bookings.POST("/:id/cancel", bookingController.CancelBooking)
	bookings.POST("/:id/accept", bookingController.AcceptMeeting)
	bookings.POST("/:id/start", bookingController.StartMeeting)
	bookings.POST("/:id/complete", bookingController.CompleteMeeting)
	bookings.GET("/:id/join", bookingController.JoinMeeting)

	professionals := e.Group("/professionals", authenticated...)
	professionals.GET("/:id/load", bookingController.ProfessionalLoad)

	commissions := e.Group("/commissions", authenticated...)
	commissions.GET("/total", paymentController.TotalCommissions)

	return e
}

func setupGRPCServer(
	cfg *config.Config,
	healthReporter *consultationsgrpc.HealthReporter,
	internalAuthMiddleware *authmiddleware.GRPCInternalAuthMiddleware,
	appServiceName string,
) (*grpc.Server, net.Listener) {
	grpcAddr := net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to listen on gRPC port")
	}

	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			consultationsgrpc.RecoveryInterceptor(),
			consultationsgrpc.RequestIDInterceptor(),
			consultationsgrpc.LoggingInterceptor(),
			internalAuthUnlessHealth(internalAuthMiddleware.UnaryRequireInternalAccess(appServiceName)),
		),
	)
	healthpb.RegisterHealthServer(grpcSrv, healthReporter.Server())
	reflection.Register(grpcSrv)

	return grpcSrv, lis
}

// internalAuthUnlessHealth lets orchestrator health checks reach the health service
// without internal credentials.
func internalAuthUnlessHealth(next grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if consultationsgrpc.IsHealthMethod(info.FullMethod) {
			return handler(ctx, req)
		}
		return next(ctx, req, info, handler)
	}
}
