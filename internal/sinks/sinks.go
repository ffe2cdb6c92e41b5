// Package sinks opens the upload sink selected in configuration
package sinks

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/Parsh06/Stock-Backend/internal/api"
	"github.com/Parsh06/Stock-Backend/internal/config"
	"github.com/Parsh06/Stock-Backend/internal/database"
	"github.com/Parsh06/Stock-Backend/internal/logger"
	"github.com/Parsh06/Stock-Backend/internal/models"
	"github.com/Parsh06/Stock-Backend/internal/services/uploader"
	"github.com/Parsh06/Stock-Backend/internal/sinks/firestore"
	"github.com/Parsh06/Stock-Backend/internal/sinks/mongo"
)

// Sink types
const (
	TypeNone      = "none"
	TypeSQLite    = "sqlite"
	TypePostgres  = "postgres"
	TypePgx       = "pgx"
	TypeREST      = "rest"
	TypeMongo     = "mongo"
	TypeFirestore = "firestore"
)

// Sink is an upload sink holding a connection until closed
type Sink interface {
	uploader.Sink
	io.Closer
}

type nopCloser struct {
	uploader.Sink
}

func (nopCloser) Close() error { return nil }

// Open connects the sink described by cfg. It returns nil for type none.
func Open(ctx context.Context, cfg config.SinkConfig) (Sink, error) {
	logger.Debug("Opening sink", zap.String("type", cfg.Type))

	switch cfg.Type {
	case "", TypeNone:
		return nil, nil
	case TypeSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			return nil, fmt.Errorf("sink dsn is required for sqlite")
		}
		if !strings.HasPrefix(dsn, "sqlite://") {
			dsn = "sqlite://" + dsn
		}
		return opened(database.OpenGormSink(dsn))
	case TypePostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("sink dsn is required for postgres")
		}
		return opened(database.OpenGormSink(cfg.DSN))
	case TypePgx:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("sink dsn is required for pgx")
		}
		return opened(database.OpenPgxSink(ctx, cfg.DSN, cfg.Schema, 2))
	case TypeREST:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("sink base_url is required for rest")
		}
		return nopCloser{api.NewDocStore(cfg.BaseURL, cfg.Token)}, nil
	case TypeMongo:
		return opened(mongo.Open(ctx, cfg.DSN, cfg.Database))
	case TypeFirestore:
		return opened(firestore.Open(ctx, firestore.Config{ProjectID: cfg.ProjectID, Credentials: cfg.Credentials}))
	}
	return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
}

// opened keeps a failed open from leaking a typed nil into the interface
func opened[S Sink](s S, err error) (Sink, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ApplyProfile overlays a stored profile and its decrypted secret on cfg.
// For DSN-based sinks the secret becomes the password of the DSN.
func ApplyProfile(cfg config.SinkConfig, p *models.SinkProfile, secret string) (config.SinkConfig, error) {
	cfg.Type = p.SinkType
	if p.Database != "" {
		cfg.Database = p.Database
	}

	switch p.SinkType {
	case TypeREST:
		cfg.BaseURL = p.Target
		cfg.Token = secret
	case TypeFirestore:
		cfg.ProjectID = p.Target
		cfg.Credentials = secret
	case TypeSQLite:
		cfg.DSN = p.Target
	default:
		dsn, err := withPassword(p.Target, secret)
		if err != nil {
			return cfg, fmt.Errorf("invalid target for profile %s: %w", p.Name, err)
		}
		cfg.DSN = dsn
	}
	return cfg, nil
}

func withPassword(target, secret string) (string, error) {
	if secret == "" {
		return target, nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if u.User == nil {
		return "", fmt.Errorf("target has no user to attach the secret to")
	}
	u.User = url.UserPassword(u.User.Username(), secret)
	return u.String(), nil
}
