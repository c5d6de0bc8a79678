//go:build integration

package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/go-sql-driver/mysql"
)

const (
	mysqlImage          = "mysql:8.0.36"
	mysqlDatabase       = "converter"
	mysqlUser           = "root"
	mysqlPassword       = "secret"
	mysqlStartupTimeout = 2 * time.Minute

	postgresImage    = "postgres:16-alpine"
	postgresDatabase = "converter"
	postgresUser     = "postgres"
	postgresPassword = "postgres123"

	redisImage = "redis:7-alpine"
)

// MySQLContainer is a running MySQL server reachable from the host and from the network.
type MySQLContainer struct {
	Container testcontainers.Container
	Network   *testcontainers.DockerNetwork
	DB        *sql.DB
	// HostDSN reaches the server from the test process.
	HostDSN string
	// DSN reaches the server from another container on Network.
	DSN string
}

// PostgresContainer is a running PostgreSQL server.
type PostgresContainer struct {
	Container *pgmodule.PostgresContainer
	Network   *testcontainers.DockerNetwork
	// URL reaches the server from the test process.
	URL string
	// NetworkURL reaches the server from another container on Network.
	NetworkURL string
}

// RedisContainer is a running Redis server.
type RedisContainer struct {
	Container testcontainers.Container
	// URL reaches the server from the test process.
	URL string
}

func newNetwork(t *testing.T, ctx context.Context) *testcontainers.DockerNetwork {
	t.Helper()

	net, err := network.New(ctx)
	if err != nil {
		t.Skipf("create network: %v", err)
	}
	t.Cleanup(func() {
		_ = net.Remove(ctx)
	})

	return net
}

func mysqlDSN(host, port string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", mysqlUser, mysqlPassword, host, port, mysqlDatabase)
}

// StartMySQLContainer starts MySQL 8 and skips the test when Docker is unavailable.
func StartMySQLContainer(t *testing.T, ctx context.Context) MySQLContainer {
	t.Helper()

	net := newNetwork(t, ctx)
	port := nat.Port("3306/tcp")
	req := testcontainers.ContainerRequest{
		Image:        mysqlImage,
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": mysqlPassword,
			"MYSQL_DATABASE":      mysqlDatabase,
		},
		Networks: []string{net.Name},
		NetworkAliases: map[string][]string{
			net.Name: {"mysql"},
		},
		WaitingFor: wait.ForSQL(port, "mysql", func(host string, port nat.Port) string {
			return mysqlDSN(host, port.Port())
		}).WithStartupTimeout(mysqlStartupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start mysql container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("resolve host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("resolve port: %v", err)
	}

	hostDSN := mysqlDSN(host, mappedPort.Port())
	db, err := sql.Open("mysql", hostDSN)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return MySQLContainer{
		Container: container,
		Network:   net,
		DB:        db,
		HostDSN:   hostDSN,
		DSN:       mysqlDSN("mysql", "3306"),
	}
}

// StartPostgresContainer starts PostgreSQL 16 and skips the test when Docker is unavailable.
func StartPostgresContainer(t *testing.T, ctx context.Context) PostgresContainer {
	t.Helper()

	net := newNetwork(t, ctx)
	container, err := pgmodule.Run(ctx,
		postgresImage,
		pgmodule.WithDatabase(postgresDatabase),
		pgmodule.WithUsername(postgresUser),
		pgmodule.WithPassword(postgresPassword),
		network.WithNetwork([]string{"postgres"}, net),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		t.Skipf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	networkURL := fmt.Sprintf("postgres://%s:%s@postgres:5432/%s?sslmode=disable",
		postgresUser, postgresPassword, postgresDatabase)

	return PostgresContainer{
		Container:  container,
		Network:    net,
		URL:        url,
		NetworkURL: networkURL,
	}
}

// StartRedisContainer starts Redis 7 and skips the test when Docker is unavailable.
func StartRedisContainer(t *testing.T, ctx context.Context) RedisContainer {
	t.Helper()

	port := nat.Port("6379/tcp")
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        redisImage,
			ExposedPorts: []string{string(port)},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("resolve host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("resolve port: %v", err)
	}

	return RedisContainer{
		Container: container,
		URL:       fmt.Sprintf("redis://%s:%s/0", host, mappedPort.Port()),
	}
}
