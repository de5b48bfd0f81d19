package testsuite

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/retail-saga/pkg/db"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Infra selects the containers a suite needs on top of postgres.
type Infra struct {
	MigrationsPath string
	RabbitMQ       bool
	Redis          bool
	Kafka          bool
}

type BaseSuite struct {
	suite.Suite
	PgContainer     *postgres.PostgresContainer
	RabbitContainer *rabbitmq.RabbitMQContainer
	RedisContainer  *tcredis.RedisContainer
	KafkaContainer  *kafka.KafkaContainer
	DbPool          *pgxpool.Pool
	DbURL           string
	AmqpURL         string
	Redis           *redis.Client
	KafkaBrokers    []string
	Ctx             context.Context
}

func (s *BaseSuite) SetupInfrastructure(infra Infra) {
	s.Ctx = context.Background()

	var err error
	s.PgContainer, err = postgres.Run(
		s.Ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)

	s.DbURL, err = s.PgContainer.ConnectionString(s.Ctx, "sslmode=disable")
	s.Require().NoError(err)

	log.Printf("running migrations from: %s", infra.MigrationsPath)
	s.Require().NoError(db.Migrate(infra.MigrationsPath, s.DbURL))

	s.DbPool, err = pgxpool.New(s.Ctx, s.DbURL)
	s.Require().NoError(err)

	if infra.RabbitMQ {
		s.RabbitContainer, err = rabbitmq.Run(s.Ctx, "rabbitmq:3.13-management-alpine")
		s.Require().NoError(err)

		s.AmqpURL, err = s.RabbitContainer.AmqpURL(s.Ctx)
		s.Require().NoError(err)
	}

	if infra.Redis {
		s.RedisContainer, err = tcredis.Run(s.Ctx, "redis:7-alpine")
		s.Require().NoError(err)

		uri, err := s.RedisContainer.ConnectionString(s.Ctx)
		s.Require().NoError(err)

		opts, err := redis.ParseURL(uri)
		s.Require().NoError(err)
		s.Redis = redis.NewClient(opts)
	}

	if infra.Kafka {
		s.KafkaContainer, err = kafka.Run(
			s.Ctx,
			"confluentinc/cp-kafka:7.5.0",
			kafka.WithClusterID("test-cluster"),
		)
		s.Require().NoError(err)

		s.KafkaBrokers, err = s.KafkaContainer.Brokers(s.Ctx)
		s.Require().NoError(err)
	}
}

func (s *BaseSuite) TearDownInfrastructure() {
	if s.DbPool != nil {
		s.DbPool.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}

	var containers []testcontainers.Container
	if s.PgContainer != nil {
		containers = append(containers, s.PgContainer)
	}
	if s.RabbitContainer != nil {
		containers = append(containers, s.RabbitContainer)
	}
	if s.RedisContainer != nil {
		containers = append(containers, s.RedisContainer)
	}
	if s.KafkaContainer != nil {
		containers = append(containers, s.KafkaContainer)
	}

	for _, c := range containers {
		if err := c.Terminate(s.Ctx); err != nil {
			log.Printf("Failed to terminate container: %v", err)
		}
	}
}

func (s *BaseSuite) TruncateTable(tableName string) {
	_, err := s.DbPool.Exec(s.Ctx, fmt.Sprintf("TRUNCATE %s RESTART IDENTITY CASCADE", tableName))
	s.Require().NoError(err)
}
