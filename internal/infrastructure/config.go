package infra

import (
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix env prefix for viper
const EnvPrefix = "TRAINING"

// runtime environments
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// DatabaseConfig connection options of the relational store
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver" json:"driver" yaml:"driver" validate:"required,oneof=postgres mysql sqlite"` // driver name
	Host     string `mapstructure:"host" json:"host" yaml:"host" validate:"required_unless=Driver sqlite"`               // server host
	MaxConn  int32  `mapstructure:"maxconn" json:"maxconn" yaml:"maxconn" validate:"min=1"`                             // maximum opening connections number
	Password string `mapstructure:"password" json:"-" yaml:"password"`                                                  // db password
	Port     int    `mapstructure:"port" json:"port" yaml:"port"`                                                       // server port
	Protocol string `mapstructure:"protocol" json:"protocol" yaml:"protocol" validate:"omitempty,oneof=tcp udp"`        // connection protocol, eg.tcp
	Query    string `mapstructure:"query" json:"query" yaml:"query"`                                                    // DSN query parameter
	Schema   string `mapstructure:"schema" json:"schema" yaml:"schema" validate:"required"`                             // use schema, file path for sqlite
	User     string `mapstructure:"username" json:"username" yaml:"username" validate:"required_unless=Driver sqlite"`  // db username
	Migrate  bool   `mapstructure:"migrate" json:"migrate" yaml:"migrate"`                                              // apply embedded schema on startup
}

// AppConfig App option object
type AppConfig struct {
	AppID          string         `mapstructure:"app_id" json:"app_id" yaml:"app_id" validate:"required"`            // Application ID
	Host           string         `mapstructure:"host" json:"host" yaml:"host"`                                      // bind host address
	Port           int            `mapstructure:"port" json:"port" yaml:"port"`                                      // bind listen port
	Env            string         `mapstructure:"env" json:"env" yaml:"env" validate:"oneof=development production"` // runtime environment
	RequestTimeout time.Duration  `mapstructure:"request_timeout" json:"request_timeout" yaml:"request_timeout"`
	SessionTimeout time.Duration  `mapstructure:"session_timeout" json:"session_timeout" yaml:"session_timeout" validate:"min=1"` // jwt lifetime
	Database       DatabaseConfig `mapstructure:"database" json:"database" yaml:"database"`
	Logging        struct {
		FilePath string `mapstructure:"file_path" json:"file_path" yaml:"file_path"`                            // log file path
		Level    string `mapstructure:"level" json:"level" yaml:"level" validate:"oneof=debug info warn error"` // global logging level
	} `mapstructure:"logging" json:"logging" yaml:"logging"`
	Security struct {
		IDLength  int    `mapstructure:"id_length" json:"id_length" yaml:"id_length" validate:"min=8"` // length of generated ID for entities
		JWTMethod string `mapstructure:"jwt_method" json:"jwt_method" yaml:"jwt_method" validate:"oneof=HS256 HS512"`
		JWTSecret string `mapstructure:"jwt_secret" json:"-" yaml:"jwt_secret" validate:"required"`
		TokenName string `mapstructure:"token_name" json:"token_name" yaml:"token_name" validate:"required"` // jwt token name set in cookie
	} `mapstructure:"security" json:"security" yaml:"security"`
	KVStore struct {
		Enabled  bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
		Host     string `mapstructure:"host" json:"host" yaml:"host"` // bind host address
		Port     int    `mapstructure:"port" json:"port" yaml:"port"` // bind listen port
		Password string `mapstructure:"password" json:"-" yaml:"password"`
	} `mapstructure:"kv" json:"kv" yaml:"kv"`
	Progress struct {
		RenotifyOnRetake bool   `mapstructure:"renotify_on_retake" json:"renotify_on_retake" yaml:"renotify_on_retake"`
		EventChannel     string `mapstructure:"event_channel" json:"event_channel" yaml:"event_channel" validate:"required"`
	} `mapstructure:"progress" json:"progress" yaml:"progress"`
	DevOP struct {
		APM bool `mapstructure:"apm" json:"apm" yaml:"apm"`
	} `mapstructure:"devop" json:"devop" yaml:"devop"`
}

// InitConfig init app config using viper
func InitConfig() (*AppConfig, error) {
	// app
	pflag.String("host", "", "binding address")
	pflag.String("app_id", "training-progress", "application identifier")
	pflag.String("env", EnvDevelopment, "runtime environment, can be 'development' or 'production'")
	pflag.Int("port", 8081, "listening port")
	pflag.Duration("request_timeout", 30*time.Second, "abort requests running longer than this, eg.30s")
	pflag.Duration("session_timeout", 24*time.Hour, "lifetime of issued tokens")

	// database
	pflag.String("database.driver", "postgres", "database driver to use, one of postgres, mysql, sqlite")
	pflag.String("database.host", "127.0.0.1", "database host")
	pflag.Int("database.port", 5432, "database server port")
	pflag.String("database.protocol", "", "connection protocol(if mysql is used, this flag must be set), eg.tcp")
	pflag.String("database.username", "", "database username (required unless sqlite)")
	pflag.String("database.password", "", "database password")
	pflag.String("database.schema", "", "database schema, or the database file path for sqlite (required)")
	pflag.String("database.query", "", `additional DSN query parameters('?' is auto prefixed), if you work with mysql
you must specify "parseTime=true"`)
	pflag.Int32("database.maxconn", 50, `max connection count, if you encounter a "too many connections" error, please consider
increasing the max_connection value of your db server, or lower this value`)
	pflag.Bool("database.migrate", false, "create missing tables on startup")

	// logging
	pflag.String("logging.level", "info", "logging level")
	pflag.String("logging.file_path", "", "log to file")

	// security
	pflag.Int("security.id_length", 24, "set length of generated ID for entities")
	pflag.String("security.jwt_method", "HS256", "hash algorithm used for JWT auth")
	pflag.String("security.jwt_secret", "", "JWT secret (required)")
	pflag.String("security.token_name", "", "cookie name to store the token (required)")

	// kv storage
	pflag.Bool("kv.enabled", false, "use kv server for token revocation and event fan-out")
	pflag.String("kv.host", "127.0.0.1", "kv host")
	pflag.Int("kv.port", 6379, "kv server port")
	pflag.String("kv.password", "", "kv server password")

	// progress
	pflag.Bool("progress.renotify_on_retake", true, "send training_completed on every quiz submission, not only the first")
	pflag.String("progress.event_channel", "training.events", "channel prefix for published progress events")

	// DevOp
	pflag.Bool("devop.apm", false, "enable apm metrics")

	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var config = new(AppConfig)
	if err := viper.Unmarshal(config); err != nil {
		return nil, err
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if config.Logging.Level == "debug" {
		if configJSON, err := json.MarshalIndent(config, "", "  "); err == nil {
			log.Printf("App config: %s\n", string(configJSON))
		}
	}
	return config, nil
}

func validateConfig(config *AppConfig) error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("mapstructure")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	err := validate.Struct(config)
	if _, ok := err.(*validator.InvalidValidationError); ok {
		return fmt.Errorf("failed to validate config: %w", err)
	}
	if err == nil {
		return nil
	}

	var msg []string
	for _, field := range err.(validator.ValidationErrors) {
		namespace := field.Namespace()
		fieldName := namespace[strings.IndexByte(namespace, '.')+1:] // trim top level namespace
		switch field.Tag() {
		case "required", "required_unless":
			msg = append(msg, fmt.Sprintf("%s is required", fieldName))
		case "oneof":
			msg = append(msg, fmt.Sprintf("%s must be one of (%s)", fieldName, field.Param()))
		case "min":
			msg = append(msg, fmt.Sprintf("%s must be at least %s", fieldName, field.Param()))
		default:
			msg = append(msg, fmt.Sprintf("%s failed on %s", fieldName, field.Tag()))
		}
	}
	return fmt.Errorf("failed to validate config: \n%s", strings.Join(msg, "\n"))
}
