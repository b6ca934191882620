//go:build integration

package integration

import (
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	mongoImage    = "mongo:7"
	mongoUser     = "root"
	mongoPassword = "integration-secret"
	mongoPort     = "27017/tcp"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func skipIfNoDocker(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}
}

func skipIfNoTools(t *testing.T, names ...string) {
	t.Helper()

	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			t.Skipf("Skipping test: %s not installed", name)
		}
	}
}

type mongoContainer struct {
	testcontainers.Container
	host string
	port int
}

func startMongo(t *testing.T) *mongoContainer {
	t.Helper()
	skipIfNoDocker(t)

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        mongoImage,
			ExposedPorts: []string{mongoPort},
			Env: map[string]string{
				"MONGO_INITDB_ROOT_USERNAME": mongoUser,
				"MONGO_INITDB_ROOT_PASSWORD": mongoPassword,
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(mongoPort),
				wait.ForLog("Waiting for connections").WithOccurrence(2),
			).WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, mongoPort)
	require.NoError(t, err)
	port, err := strconv.Atoi(mapped.Port())
	require.NoError(t, err)

	return &mongoContainer{Container: container, host: host, port: port}
}

// eval runs a mongosh script inside the container and returns its trimmed output.
func (m *mongoContainer) eval(t *testing.T, script string) string {
	t.Helper()

	code, reader, err := m.Exec(context.Background(), []string{
		"mongosh", "--quiet",
		"--username", mongoUser,
		"--password", mongoPassword,
		"--authenticationDatabase", "admin",
		"--eval", script,
	}, tcexec.Multiplexed())
	require.NoError(t, err)

	raw, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, 0, code, "mongosh failed: %s", raw)

	// stdout and stderr are merged; the script prints its result last.
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func (m *mongoContainer) seed(t *testing.T, database string, count int) {
	t.Helper()

	m.eval(t, "const d = db.getSiblingDB('"+database+"'); "+
		"for (let i = 0; i < "+strconv.Itoa(count)+"; i++) { d.orders.insertOne({n: i, item: 'widget-' + i}); } "+
		"print(d.orders.countDocuments())")
}

func (m *mongoContainer) count(t *testing.T, database string) int {
	t.Helper()

	out := m.eval(t, "print(db.getSiblingDB('"+database+"').orders.countDocuments())")
	n, err := strconv.Atoi(out)
	require.NoError(t, err, "unexpected count output %q", out)
	return n
}

func (m *mongoContainer) drop(t *testing.T, database string) {
	t.Helper()
	m.eval(t, "db.getSiblingDB('"+database+"').dropDatabase(); print('ok')")
}
