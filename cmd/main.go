package main

import (
	"context"
	"log"

	infra "github.com/pot-code/training-progress/internal/infrastructure"
	"github.com/pot-code/training-progress/internal/infrastructure/driver"
	"github.com/pot-code/training-progress/internal/infrastructure/logging"
	"github.com/pot-code/training-progress/internal/infrastructure/uuid"
	"github.com/pot-code/training-progress/internal/infrastructure/validate"
	"github.com/pot-code/training-progress/internal/interfaces/rest"
	"github.com/pot-code/training-progress/internal/notify"
	"github.com/pot-code/training-progress/internal/progress"
	"go.uber.org/zap"
)

func main() {
	log.SetFlags(log.Lshortfile | log.Ldate | log.Ltime)
	option, err := infra.InitConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		FilePath: option.Logging.FilePath,
		Level:    option.Logging.Level,
		AppID:    option.AppID,
		Env:      option.Env,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %s\n", err)
	}
	defer logger.Sync()

	dbConn, err := driver.GetDBConnection(&driver.DBConfig{
		User:     option.Database.User,
		Password: option.Database.Password,
		MaxConn:  option.Database.MaxConn,
		Protocol: option.Database.Protocol,
		Driver:   option.Database.Driver,
		Host:     option.Database.Host,
		Port:     option.Database.Port,
		Query:    option.Database.Query,
		Schema:   option.Database.Schema,
	})
	if err != nil {
		logger.Fatal("Failed to create DB connection", zap.Error(err))
	}
	defer dbConn.Close(context.Background())
	logger.Debug("Create DB connection instance", zap.String("db.driver", option.Database.Driver),
		zap.String("db.schema", option.Database.Schema),
		zap.String("db.host", option.Database.Host),
	)

	if option.Database.Migrate {
		ctx := logging.SetLoggerInContext(context.Background(), logger)
		if err := progress.Migrate(ctx, dbConn); err != nil {
			logger.Fatal("Failed to migrate schema", zap.Error(err))
		}
	}

	UUIDGenerator := uuid.NewNanoIDGenerator(option.Security.IDLength)

	var (
		kv       driver.KeyValueDB
		notifier progress.Notifier = notify.NewLogNotifier(logger)
	)
	if option.KVStore.Enabled {
		rdb := driver.NewRedisClient(option.KVStore.Host, option.KVStore.Port, option.KVStore.Password)
		defer rdb.Close()
		if err := rdb.Ping(context.Background()); err != nil {
			logger.Fatal("Failed to connect KV store", zap.Error(err))
		}
		kv = rdb
		notifier = notify.NewKVNotifier(rdb, UUIDGenerator, option.Progress.EventChannel)
	}

	ProgressRepo := progress.NewProgressRepository(dbConn, UUIDGenerator)
	ProgressUseCase := progress.NewUseCase(ProgressRepo, notifier, validate.NewValidator(), &progress.UseCaseOption{
		RenotifyOnRetake: option.Progress.RenotifyOnRetake,
	})

	if err := rest.Serve(dbConn, kv, option, ProgressUseCase, logger); err != nil {
		logger.Error("Server stopped", zap.Error(err))
	}
}
