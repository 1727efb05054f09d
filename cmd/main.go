package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"

	"student-assistant/handler"
	"student-assistant/internal/config"
	"student-assistant/internal/guard"
	"student-assistant/internal/integrations/api"
	"student-assistant/internal/integrations/paramstore"
	"student-assistant/internal/observability"
	"student-assistant/internal/repository"
	"student-assistant/internal/session"
	"student-assistant/internal/usecase"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := newLogger()
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv("STUDENT_ASSISTANT_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	metricsAddr := os.Getenv("STUDENT_ASSISTANT_METRICS_ADDR")
	maxLineBytes := envInt("STUDENT_ASSISTANT_MAX_LINE_BYTES", 64*1024)

	// ---- AWS SDK config, only when a component needs it ----
	var awsCfg aws.Config
	if cfg.NeedsAWS() {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			slog.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}
	}
	if cfg.ParamPrefix != "" {
		params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			slog.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		if err := cfg.ApplyParameters(ctx, params); err != nil {
			slog.Error("failed to read parameters", "prefix", cfg.ParamPrefix, "err", err)
			os.Exit(1)
		}
	}

	// ---- Clients ----
	store, err := newStore(cfg, awsCfg)
	if err != nil {
		slog.Error("failed to create store", "storage", cfg.Storage, "err", err)
		os.Exit(1)
	}
	remote := api.NewClient(
		api.WithBaseURL(cfg.APIBaseURL),
		api.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
	)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg, cfg.MetricsNamespace)
	if metricsAddr != "" {
		go serveMetrics(metricsAddr, reg)
	}

	// ---- Session and conversations ----
	creds, err := session.NewCredentialStore(store)
	if err != nil {
		slog.Error("failed to create credential store", "err", err)
		os.Exit(1)
	}
	sessions, err := session.NewStore(remote, creds, session.WithLogger(logger), session.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to create session store", "err", err)
		os.Exit(1)
	}
	manager, err := usecase.NewManager(store, remote, creds,
		usecase.WithGreeting(cfg.Greeting),
		usecase.WithLogger(logger),
		usecase.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to create conversation manager", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(sessions, manager, logger)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	mount := guard.NewMount(guard.RequireAuthenticated(), sessions, terminalNavigator{w: out})
	mount.Render(ctx)
	if err := mount.Wait(ctx); err != nil {
		return
	}
	if mount.Render(ctx).Verdict == guard.Admit {
		show(out, h.Handle(ctx, "/open "+usecase.DefaultConversationID))
	}
	out.Flush()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for {
		fmt.Fprint(out, "> ")
		out.Flush()
		if !scanner.Scan() {
			break
		}
		resp := h.Handle(ctx, scanner.Text())
		show(out, resp)
		if resp.Quit || ctx.Err() != nil {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("failed to read input", "err", err)
	}
}

func newStore(cfg *config.Config, awsCfg aws.Config) (repository.Store, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return repository.NewMemoryStore(), nil
	case config.StorageDynamoDB:
		client := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
			if cfg.DynamoDBEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
			}
		})
		return repository.NewDynamoStore(client, cfg.DynamoDBTable, cfg.DynamoDBPartition)
	default:
		return repository.NewFileStore(cfg.DataDir)
	}
}

type terminalNavigator struct {
	w *bufio.Writer
}

func (n terminalNavigator) Redirect(path string) {
	if path == guard.SignInPath {
		fmt.Fprintln(n.w, "You are not signed in. Use /login <email> <password> or /signup.")
		return
	}
	fmt.Fprintf(n.w, "-> %s\n", path)
}

func show(w *bufio.Writer, resp handler.Response) {
	if resp.Body != "" {
		fmt.Fprintln(w, resp.Body)
	}
	w.Flush()
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler(reg))
	slog.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server stopped", "err", err)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if v, _ := strconv.ParseBool(os.Getenv("STUDENT_ASSISTANT_DEBUG")); v {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
