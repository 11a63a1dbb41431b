package backends

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"

	"qcache/internal/backends/ddb"
	"qcache/internal/backends/postgres"
	redisbackend "qcache/internal/backends/redis"
	"qcache/internal/config"
	"qcache/internal/ports"
	"qcache/internal/types"
)

const (
	QuestionBackendEnvKey = "QUESTION_BACKEND"
	BackendPostgres       = "postgres"
	BackendDDB            = "ddb"

	DatabaseURLKey = "DATABASE_URL"
	DBSchemaKey    = "DB_SCHEMA"

	DDBEndpointKey = "DDB_ENDPOINT"
	DDBTableKey    = "DDB_TABLE"
	SNSEndpointKey = "SNS_ENDPOINT"

	RedisHost  = "REDIS_HOST"
	RedisPort  = "REDIS_PORT"
	RedisUser  = "REDIS_USER"
	RedisPass  = "REDIS_PASS"
	RedisTLS   = "REDIS_SSL"
	RedisDBNum = "REDIS_DB_NUM"
)

const AmazonRootCA1PEM = `-----BEGIN CERTIFICATE-----
MIIDQTCCAimgAwIBAgITBmyfz5m/jAo54vB4ikPmljZbyjANBgkqhkiG9w0BAQsF
ADA5MQswCQYDVQQGEwJVUzEPMA0GA1UEChMGQW1hem9uMRkwFwYDVQQDExBBbWF6
b24gUm9vdCBDQSAxMB4XDTE1MDUyNjAwMDAwMFoXDTM4MDExNzAwMDAwMFowOTEL
MAkGA1UEBhMCVVMxDzANBgNVBAoTBkFtYXpvbjEZMBcGA1UEAxMQQW1hem9uIFJv
b3QgQ0EgMTCCASIwDQYJKoZIhvcNAQEBBQADggEPADCCAQoCggEBALJ4gHHKeNXj
ca9HgFB0fW7Y14h29Jlo91ghYPl0hAEvrAIthtOgQ3pOsqTQNroBvo3bSMgHFzZM
9O6II8c+6zf1tRn4SWiw3te5djgdYZ6k/oI2peVKVuRF4fn9tBb6dNqcmzU5L/qw
IFAGbHrQgLKm+a/sRxmPUDgH3KKHOVj4utWp+UhnMJbulHheb4mjUcAwhmahRWa6
VOujw5H5SNz/0egwLX0tdHA114gk957EWW67c4cX8jJGKLhD+rcdqsq08p8kDi1L
93FcXmn/6pUCyziKrlA4b9v7LWIbxcceVOF34GfID5yHI9Y/QCB/IIDEgEw+OyQm
jgSubJrIqg0CAwEAAaNCMEAwDwYDVR0TAQH/BAUwAwEB/zAOBgNVHQ8BAf8EBAMC
AYYwHQYDVR0OBBYEFIQYzIU07LwMlJQuCFmcx7IQTgoIMA0GCSqGSIb3DQEBCwUA
A4IBAQCY8jdaQZChGsV2USggNiMOruYou6r4lK5IpDB/G/wkjUu0yKGX9rbxenDI
U5PMCCjjmCXPI6T53iHTfIUJrU6adTrCC2qJeHZERxhlbI1Bjjt/msv0tadQ1wUs
N+gDS63pYaACbvXy8MWy7Vu33PqUXHeeE6V/Uq2V8viTO96LXFvKWlJbYK8U90vv
o/ufQJVtMVT8QtPHRh8jrdkPSHCa2XV4cdFyQzR1bldZwgJcJmApzyMZFo6IQ6XU
5MsI+yMRQ+hDKXJioaldXgjUkK642M4UwtBV8ob2xJNDd2ZhwLnoQdeXeGADbkpy
rqXRfboQnoZsG4q5WTP468SQvvG5
-----END CERTIFICATE-----`

// FastStoreFromEnv connects to Redis and wraps it as the pool's fast store.
func FastStoreFromEnv(ctx context.Context) (*redisbackend.FastStore, error) {
	cli, err := redisClientFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	return redisbackend.NewFastStore(cli), nil
}

// QuestionStoreFromEnv constructs a QuestionStore based on environment variables.
// Supported backends are "postgres" and "ddb" (DynamoDB), chosen by QUESTION_BACKEND.
// Defaults to BackendPostgres if unspecified.
func QuestionStoreFromEnv(ctx context.Context) (ports.QuestionStore, error) {
	backend := config.Getenv(QuestionBackendEnvKey, BackendPostgres)
	switch backend {
	case BackendPostgres:
		url := os.Getenv(DatabaseURLKey)
		if url == "" {
			return nil, types.Err(types.ErrInvalidConfig, nil, "%s is required for the %s backend", DatabaseURLKey, backend)
		}
		db, err := postgres.NewDatabase(url)
		if err != nil {
			return nil, types.Err(types.ErrDataStoreAccess, err, "")
		}
		schema := config.Getenv(DBSchemaKey, postgres.DefaultSchema)
		if err := postgres.Migrate(ctx, db, schema); err != nil {
			return nil, types.Err(types.ErrDataStoreAccess, err, "")
		}
		return postgres.NewQuestionStore(db, schema), nil

	case BackendDDB:
		awsCfg, err := awsConfigFromEnv(ctx)
		if err != nil {
			return nil, err
		}
		endpoint := os.Getenv(DDBEndpointKey)
		cli := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if endpoint != "" {
				// This is used for testing only locally
				o.BaseEndpoint = aws.String(endpoint)
				localOverrides(&o.Region, &o.Credentials)
			}
		})
		return ddb.NewQuestionStore(ctx, config.Getenv(DDBTableKey, "qcache_questions"), cli)

	default:
		return nil, types.Err(types.ErrInvalidBackend, nil, "unknown %s %q", QuestionBackendEnvKey, backend)
	}
}

// SNSClientFromEnv creates an SNS client, honouring SNS_ENDPOINT for local mocks.
func SNSClientFromEnv(ctx context.Context) (*sns.Client, error) {
	awsCfg, err := awsConfigFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := os.Getenv(SNSEndpointKey)
	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			localOverrides(&o.Region, &o.Credentials)
		}
	}), nil
}

func awsConfigFromEnv(ctx context.Context) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, types.Err(types.ErrInvalidConfig, err, "aws config")
	}
	return awsCfg, nil
}

// localOverrides points a client at a local mock with static credentials.
func localOverrides(region *string, creds *aws.CredentialsProvider) {
	*region = config.Getenv("AWS_REGION", "us-east-1")
	*creds = credentials.NewStaticCredentialsProvider(
		config.Getenv("AWS_ACCESS_KEY_ID", "x"),
		config.Getenv("AWS_SECRET_ACCESS_KEY", "x"),
		"",
	)
}

// redisOptionsFromEnv reads the Redis connection settings.
func redisOptionsFromEnv() (*redis.Options, error) {
	host := config.Getenv(RedisHost, "localhost")
	port := config.Getenv(RedisPort, "6379")
	dbNum, err := strconv.Atoi(config.Getenv(RedisDBNum, "0"))
	if err != nil {
		return nil, types.Err(types.ErrInvalidConfig, err, "invalid Redis DB number")
	}

	var tlsConfig *tls.Config
	if config.ParseBoolean(config.Getenv(RedisTLS, "false")) {
		// Create a CA certificate pool and add our CA certificate
		caCerts := x509.NewCertPool()
		if !caCerts.AppendCertsFromPEM([]byte(AmazonRootCA1PEM)) {
			return nil, fmt.Errorf("failed to retrieve CA certificate")
		}
		tlsConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    caCerts,
		}
	}

	return &redis.Options{
		Addr:      fmt.Sprintf("%s:%s", host, port),
		Username:  os.Getenv(RedisUser),
		Password:  os.Getenv(RedisPass),
		DB:        dbNum,
		TLSConfig: tlsConfig,
	}, nil
}

func redisClientFromEnv(ctx context.Context) (*redis.Client, error) {
	opts, err := redisOptionsFromEnv()
	if err != nil {
		return nil, err
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, types.Err(types.ErrDataStoreAccess, err, "failed to ping Redis at %s", opts.Addr)
	}
	return cli, nil
}
