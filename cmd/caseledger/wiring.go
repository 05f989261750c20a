package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/caseledger/internal/archive"
	"github.com/jmerrifield20/caseledger/internal/casework/service"
	"github.com/jmerrifield20/caseledger/internal/ledger"
	"github.com/jmerrifield20/caseledger/internal/notify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"
)

// buildLedger selects the ledger backend. sharedDSN is the case store
// database, used by the postgres ledger when ledger.database_url is empty.
// The returned func releases any connection pool opened here.
func buildLedger(ctx context.Context, sharedDSN string, logger *zap.Logger) (ledger.Ledger, func(), error) {
	noop := func() {}
	switch driver := viper.GetString("ledger.driver"); driver {
	case "memory":
		logger.Warn("using in-memory ledger; anchors are lost on restart")
		return ledger.NewMemoryLedger(), noop, nil

	case "remote":
		url := viper.GetString("ledger.url")
		if url == "" {
			return nil, nil, fmt.Errorf("ledger.driver=remote requires ledger.url")
		}
		opts := []ledger.RemoteOption{ledger.WithAPIToken(viper.GetString("ledger.api_token"))}
		if tokenURL := viper.GetString("ledger.oauth.token_url"); tokenURL != "" {
			opts = []ledger.RemoteOption{ledger.WithHTTPClient(oauthClient(ctx, tokenURL))}
			logger.Info("ledger requests use OAuth2 client credentials", zap.String("token_url", tokenURL))
		}
		logger.Info("using remote ledger", zap.String("url", url))
		return ledger.NewRemoteLedger(url, logger, opts...), noop, nil

	case "postgres":
		// The ledger always gets its own pool. A write holds a store connection
		// for its whole transaction and needs a ledger connection inside it, so
		// sharing one pool deadlocks once every connection is held by a writer.
		dsn := viper.GetString("ledger.database_url")
		if dsn == "" {
			if sharedDSN == "" {
				return nil, nil, fmt.Errorf("ledger.driver=postgres requires ledger.database_url or a postgres store")
			}
			dsn = sharedDSN
			logger.Info("ledger uses the case store database through a separate pool")
		}
		pool, err := openPool(ctx, dsn, viper.GetInt("ledger.pool.max_conns"))
		if err != nil {
			return nil, nil, fmt.Errorf("ledger database: %w", err)
		}
		logger.Info("connected to ledger database", zap.Int32("max_conns", pool.Config().MaxConns))
		return ledger.NewPostgresLedger(pool, logger), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown ledger.driver %q", driver)
	}
}

// poolConfig parses dsn and caps the pool at maxConns. Zero or less keeps the
// pgxpool default of max(4, NumCPU).
func poolConfig(dsn string, maxConns int) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	return cfg, nil
}

// openPool connects and pings a pool built by poolConfig.
func openPool(ctx context.Context, dsn string, maxConns int) (*pgxpool.Pool, error) {
	cfg, err := poolConfig(dsn, maxConns)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// oauthClient returns an HTTP client that attaches client-credential tokens,
// for ledger services behind an OAuth2 gateway.
func oauthClient(ctx context.Context, tokenURL string) *http.Client {
	cc := &clientcredentials.Config{
		ClientID:     viper.GetString("ledger.oauth.client_id"),
		ClientSecret: viper.GetString("ledger.oauth.client_secret"),
		TokenURL:     tokenURL,
		Scopes:       viper.GetStringSlice("ledger.oauth.scopes"),
	}
	hc := cc.Client(ctx)
	hc.Timeout = 10 * time.Second
	return hc
}

func buildNotifier(logger *zap.Logger) (*notify.Dispatcher, error) {
	var sender notify.Sender
	from := viper.GetString("notify.from_address")
	switch driver := viper.GetString("notify.driver"); driver {
	case "noop", "":
		sender = notify.NewNoopSender(logger)
	case "smtp":
		host := viper.GetString("notify.smtp.host")
		if host == "" {
			return nil, fmt.Errorf("notify.driver=smtp requires notify.smtp.host")
		}
		sender = notify.NewSMTPSender(host,
			viper.GetInt("notify.smtp.port"),
			viper.GetString("notify.smtp.username"),
			viper.GetString("notify.smtp.password"),
			from,
		)
		logger.Info("SMTP notifications configured", zap.String("host", host))
	case "resend":
		rs, err := notify.NewResendSender(viper.GetString("notify.resend.api_key"), from)
		if err != nil {
			return nil, fmt.Errorf("resend notifications: %w", err)
		}
		sender = rs
		logger.Info("Resend notifications configured")
	case "webhook":
		ws, err := notify.NewWebhookSender(viper.GetString("notify.webhook.url"), viper.GetString("notify.webhook.secret"))
		if err != nil {
			return nil, fmt.Errorf("webhook notifications: %w", err)
		}
		sender = ws
		logger.Info("webhook notifications configured")
	default:
		return nil, fmt.Errorf("unknown notify.driver %q", driver)
	}
	return notify.NewDispatcher(sender, viper.GetString("notify.address_template"), logger), nil
}

func buildArchive(ctx context.Context, logger *zap.Logger) (service.Archive, error) {
	switch driver := viper.GetString("archive.driver"); driver {
	case "local", "":
		dir := viper.GetString("archive.dir")
		logger.Info("verification reports archived locally", zap.String("dir", dir))
		return archive.NewLocalArchive(dir), nil
	case "s3":
		a, err := archive.NewS3Archive(ctx, archive.S3Config{
			Bucket:          viper.GetString("archive.s3.bucket"),
			Region:          viper.GetString("archive.s3.region"),
			Endpoint:        viper.GetString("archive.s3.endpoint"),
			AccessKeyID:     viper.GetString("archive.s3.access_key_id"),
			SecretAccessKey: viper.GetString("archive.s3.secret_access_key"),
			Prefix:          viper.GetString("archive.s3.prefix"),
		})
		if err != nil {
			return nil, err
		}
		logger.Info("verification reports archived to S3", zap.String("bucket", viper.GetString("archive.s3.bucket")))
		return a, nil
	default:
		return nil, fmt.Errorf("unknown archive.driver %q", driver)
	}
}
