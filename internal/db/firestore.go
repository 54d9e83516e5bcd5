package db

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// FirestoreConfig selects the project and service-account credentials.
// CredentialsJSON wins over CredentialsFile when both are set.
type FirestoreConfig struct {
	ProjectID       string
	CredentialsJSON string
	CredentialsFile string
}

// NewFirestore creates the process-wide Firestore client. It is constructed
// once and handed to every component that needs the store.
func NewFirestore(lc fx.Lifecycle, logger *zap.Logger, cfg FirestoreConfig) (*firestore.Client, error) {
	logger.Info("initializing firestore client", zap.String("project_id", cfg.ProjectID))

	var creds option.ClientOption
	if cfg.CredentialsJSON != "" {
		creds = option.WithCredentialsJSON([]byte(cfg.CredentialsJSON))
	} else {
		creds = option.WithCredentialsFile(cfg.CredentialsFile)
	}

	ctx := context.Background()

	var conf *firebase.Config
	if cfg.ProjectID != "" {
		conf = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	app, err := firebase.NewApp(ctx, conf, creds)
	if err != nil {
		return nil, fmt.Errorf("[FIRESTORE] failed to initialize firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("[FIRESTORE] failed to create firestore client: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("firestore connection established successfully")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := client.Close(); err != nil {
				logger.Error("failed to close firestore client", zap.Error(err))
				return err
			}
			logger.Info("firestore client closed")
			return nil
		},
	})

	return client, nil
}
