package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bnema/umeng-cli/internal/adapters/passport"
	tomlrepo "github.com/bnema/umeng-cli/internal/adapters/repo/toml"
	chainstore "github.com/bnema/umeng-cli/internal/adapters/secrets/chain"
	filestate "github.com/bnema/umeng-cli/internal/adapters/state/file"
	redisstate "github.com/bnema/umeng-cli/internal/adapters/state/redis"
	"github.com/bnema/umeng-cli/internal/adapters/umeng"
	"github.com/bnema/umeng-cli/internal/application"
	"github.com/bnema/umeng-cli/internal/config"
	"github.com/bnema/umeng-cli/internal/domain"
	"github.com/bnema/umeng-cli/internal/observability"
	"github.com/bnema/umeng-cli/internal/ports"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type app struct {
	cfg         config.Config
	logger      *zap.Logger
	service     *application.Service
	state       ports.StateStore
	throttle    *application.Throttle
	credentials *application.CredentialCache
	httpClient  *http.Client
}

func wireApp() (*app, error) {
	v := viper.New()
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	repo, err := tomlrepo.NewRepository(v)
	if err != nil {
		return nil, fmt.Errorf("wire account repository: %w", err)
	}

	secretStore, err := chainstore.NewPassFirstWithFileFallback(cfg.Secrets.Dir, cfg.Secrets.PassDir, logger.Named("secrets"))
	if err != nil {
		return nil, fmt.Errorf("wire secret store chain: %w", err)
	}

	state, err := openStateStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire state store: %w", err)
	}

	clock := ports.SystemClock{}
	throttle, err := application.NewThrottle(state, cfg.Throttle.Policy(), clock, logger.Named("throttle"),
		application.WithLockTimeout(cfg.Throttle.LockTimeout),
	)
	if err != nil {
		_ = state.Close()
		return nil, fmt.Errorf("wire throttle: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.HTTP.Timeout}
	handshaker := &passport.Handshaker{
		Endpoints: passport.Endpoints{
			LoginURL:    cfg.Passport.LoginURL,
			RegisterURL: cfg.Passport.RegisterURL,
			AppName:     cfg.Passport.AppName,
		},
		HTTPClient:  httpClient,
		StepTimeout: cfg.HTTP.Timeout,
		Clock:       clock,
		Logger:      logger.Named("passport"),
	}

	return &app{
		cfg:         cfg,
		logger:      logger,
		service:     application.NewService(repo, secretStore),
		state:       state,
		throttle:    throttle,
		credentials: application.NewCredentialCache(state, handshaker, clock, logger.Named("credentials")),
		httpClient:  httpClient,
	}, nil
}

func openStateStore(cfg config.Config) (ports.StateStore, error) {
	switch cfg.State.Driver {
	case config.StateDriverRedis:
		store, err := redisstate.NewStore(redisstate.Options{
			Addr:     cfg.State.RedisAddr,
			Password: cfg.State.RedisPassword,
			DB:       cfg.State.RedisDB,
			Prefix:   cfg.State.RedisPrefix,
			LockTTL:  cfg.Throttle.LockTimeout,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return filestate.NewStore(cfg.State.Dir), nil
	}
}

// apiClient builds a client bound to one registered account.
func (a *app) apiClient(ctx context.Context, id domain.AccountID) (*umeng.Client, error) {
	creds, err := a.service.Credentials(ctx, id)
	if err != nil {
		return nil, err
	}

	return umeng.NewClient(umeng.Account{Email: creds.Email, Password: creds.Password}, umeng.Options{
		BaseURL:        a.cfg.API.BaseURL,
		SessionBaseURL: a.cfg.API.SessionBaseURL,
		HTTPClient:     a.httpClient,
		Timeout:        a.cfg.HTTP.Timeout,
		PaceRPS:        a.cfg.API.PaceRPS,
		PaceBurst:      a.cfg.API.PaceBurst,
	}, a.throttle, a.credentials, a.logger.Named("api"))
}

func (a *app) close() error {
	_ = a.logger.Sync()
	return a.state.Close()
}
