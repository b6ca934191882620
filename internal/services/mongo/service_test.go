package mongo

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/fgeck/gomongo-backup/internal/services/executor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockExecutor struct {
	runFunc func(ctx context.Context, cmd executor.Command) (*models.ProcessResult, error)
	calls   []executor.Command
}

func (m *mockExecutor) Run(ctx context.Context, cmd executor.Command) (*models.ProcessResult, error) {
	m.calls = append(m.calls, cmd)
	if m.runFunc != nil {
		return m.runFunc(ctx, cmd)
	}
	return &models.ProcessResult{}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConnection() models.ConnectionConfig {
	return models.ConnectionConfig{
		Host:     "db.internal",
		Port:     27018,
		Username: "admin",
		Password: "s3cret",
	}
}

func TestDump_Local(t *testing.T) {
	exec := &mockExecutor{}
	svc := NewWithExecutor(testLogger(), exec)

	_, err := svc.Dump(context.Background(), DumpOptions{
		Database:   "shop",
		OutputPath: "/backups/shop",
		Connection: testConnection(),
	})
	require.NoError(t, err)
	require.Len(t, exec.calls, 1)

	call := exec.calls[0]
	assert.Equal(t, ToolDump, call.Name)
	assert.Equal(t, []string{
		"--db", "shop", "--out", "/backups/shop",
		"--host", "db.internal", "--port", "27018",
		"--username", "admin", "--password", "s3cret",
		"--authenticationDatabase", "admin",
	}, call.Args)
}

func TestDump_Container(t *testing.T) {
	exec := &mockExecutor{}
	svc := NewWithExecutor(testLogger(), exec)
	svc.runID = func() string { return "run1" }
	scratch := containerBackupDir + "-run1"

	_, err := svc.Dump(context.Background(), DumpOptions{
		Database:   "shop",
		OutputPath: "/backups/shop",
		Connection: testConnection(),
		Container:  "mongo1",
	})
	require.NoError(t, err)
	require.Len(t, exec.calls, 3)

	dump := exec.calls[0]
	assert.Equal(t, ToolDocker, dump.Name)
	assert.Equal(t, []string{"exec", "mongo1", ToolDump, "--db", "shop", "--out", scratch}, dump.Args[:7])
	assert.Contains(t, dump.Args, "localhost")
	assert.NotContains(t, dump.Args, "db.internal")

	assert.Equal(t, []string{"cp", "mongo1:" + scratch + "/.", "/backups/shop"}, exec.calls[1].Args)
	assert.Equal(t, []string{"exec", "mongo1", "rm", "-rf", scratch}, exec.calls[2].Args)
}

func TestDump_ContainerScratchPerRun(t *testing.T) {
	exec := &mockExecutor{}
	svc := NewWithExecutor(testLogger(), exec)

	opts := DumpOptions{Database: "shop", OutputPath: "/backups/shop", Container: "mongo1"}
	_, err := svc.Dump(context.Background(), opts)
	require.NoError(t, err)
	_, err = svc.Dump(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, exec.calls, 6)

	first, second := exec.calls[0].Args[6], exec.calls[3].Args[6]
	assert.True(t, strings.HasPrefix(first, containerBackupDir+"-"), first)
	assert.True(t, strings.HasPrefix(second, containerBackupDir+"-"), second)
	assert.NotEqual(t, first, second)

	// Each run removes only its own scratch directory.
	assert.Equal(t, []string{"exec", "mongo1", "rm", "-rf", first}, exec.calls[2].Args)
	assert.Equal(t, []string{"exec", "mongo1", "rm", "-rf", second}, exec.calls[5].Args)
}

func TestDump_ContainerCleanupAfterFailure(t *testing.T) {
	exec := &mockExecutor{
		runFunc: func(_ context.Context, cmd executor.Command) (*models.ProcessResult, error) {
			if len(cmd.Args) > 2 && cmd.Args[2] == ToolDump {
				return &models.ProcessResult{ExitCode: 1, Stderr: "Failed: connection refused"}, nil
			}
			return &models.ProcessResult{}, nil
		},
	}
	svc := NewWithExecutor(testLogger(), exec)

	svc.runID = func() string { return "run1" }

	_, err := svc.Dump(context.Background(), DumpOptions{Database: "shop", OutputPath: "/out", Container: "mongo1"})
	require.Error(t, err)

	opErr := models.AsOperationError(err)
	assert.Equal(t, models.KindConnectivity, opErr.Kind)

	require.Len(t, exec.calls, 2)
	assert.Equal(t, []string{"exec", "mongo1", "rm", "-rf", containerBackupDir + "-run1"}, exec.calls[1].Args)
}

func TestDump_ContainerCleanupIgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var cleanupCtxErr error
	exec := &mockExecutor{
		runFunc: func(runCtx context.Context, cmd executor.Command) (*models.ProcessResult, error) {
			if len(cmd.Args) > 2 && cmd.Args[2] == ToolDump {
				cancel()
				return &models.ProcessResult{ExitCode: -1}, fmt.Errorf("command cancelled: %w", context.Canceled)
			}
			cleanupCtxErr = runCtx.Err()
			return &models.ProcessResult{}, nil
		},
	}
	svc := NewWithExecutor(testLogger(), exec)

	_, err := svc.Dump(ctx, DumpOptions{Database: "shop", OutputPath: "/out", Container: "mongo1"})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, exec.calls, 2)
	assert.NoError(t, cleanupCtxErr)
}

func TestDump_ToolMissing(t *testing.T) {
	exec := &mockExecutor{
		runFunc: func(_ context.Context, cmd executor.Command) (*models.ProcessResult, error) {
			return nil, fmt.Errorf("starting %s: %w", cmd.Name, executor.ErrToolNotFound)
		},
	}
	svc := NewWithExecutor(testLogger(), exec)

	_, err := svc.Dump(context.Background(), DumpOptions{Database: "shop", OutputPath: "/out"})
	require.Error(t, err)

	opErr := models.AsOperationError(err)
	assert.Equal(t, models.KindToolUnavailable, opErr.Kind)
	assert.Equal(t, models.ExitToolUnavailable, opErr.ExitCode)
	assert.Contains(t, opErr.Message, ToolDump)
}

func TestRestore_Local(t *testing.T) {
	exec := &mockExecutor{}
	svc := NewWithExecutor(testLogger(), exec)

	_, err := svc.Restore(context.Background(), RestoreOptions{
		Database:   "shop",
		SourcePath: "/backups/shop",
		Connection: models.ConnectionConfig{URI: "mongodb://u:p@db:27017"},
		Drop:       true,
	})
	require.NoError(t, err)
	require.Len(t, exec.calls, 1)

	assert.Equal(t, ToolRestore, exec.calls[0].Name)
	assert.Equal(t, []string{
		"--drop", "--nsInclude=shop.*", "--uri", "mongodb://u:p@db:27017", "/backups/shop",
	}, exec.calls[0].Args)
}

func TestRestore_LocalWithoutDrop(t *testing.T) {
	exec := &mockExecutor{}
	svc := NewWithExecutor(testLogger(), exec)

	_, err := svc.Restore(context.Background(), RestoreOptions{Database: "shop", SourcePath: "/src"})
	require.NoError(t, err)

	assert.NotContains(t, exec.calls[0].Args, "--drop")
	assert.Equal(t, []string{"--nsInclude=shop.*", "--host", "localhost", "--port", "27017", "/src"}, exec.calls[0].Args)
}

func TestRestore_ContainerDirectory(t *testing.T) {
	source := t.TempDir()
	exec := &mockExecutor{}
	svc := NewWithExecutor(testLogger(), exec)
	svc.runID = func() string { return "run1" }
	scratch := containerRestoreDir + "-run1"

	_, err := svc.Restore(context.Background(), RestoreOptions{
		Database:   "shop",
		SourcePath: source,
		Container:  "mongo1",
	})
	require.NoError(t, err)
	require.Len(t, exec.calls, 3)

	assert.Equal(t, []string{"cp", source + string(os.PathSeparator) + ".", "mongo1:" + scratch}, exec.calls[0].Args)

	restore := exec.calls[1].Args
	assert.Equal(t, []string{"exec", "mongo1", ToolRestore, "--nsInclude=shop.*"}, restore[:4])
	assert.Equal(t, scratch, restore[len(restore)-1])

	assert.Equal(t, []string{"exec", "mongo1", "rm", "-rf", scratch}, exec.calls[2].Args)
}

func TestRestore_ContainerFile(t *testing.T) {
	source := filepath.Join(t.TempDir(), "users.bson")
	require.NoError(t, os.WriteFile(source, []byte("bson"), 0o600))

	exec := &mockExecutor{}
	svc := NewWithExecutor(testLogger(), exec)
	svc.runID = func() string { return "run1" }

	_, err := svc.Restore(context.Background(), RestoreOptions{Database: "shop", SourcePath: source, Container: "mongo1"})
	require.NoError(t, err)

	target := containerRestoreDir + "-run1-users.bson"
	assert.Equal(t, []string{"cp", source, "mongo1:" + target}, exec.calls[0].Args)
	assert.Equal(t, target, exec.calls[1].Args[len(exec.calls[1].Args)-1])
	assert.Equal(t, []string{"exec", "mongo1", "rm", "-rf", target}, exec.calls[2].Args)
}

func TestRestore_CopyFailureSkipsRestore(t *testing.T) {
	exec := &mockExecutor{
		runFunc: func(_ context.Context, cmd executor.Command) (*models.ProcessResult, error) {
			if cmd.Args[0] == "cp" {
				return &models.ProcessResult{ExitCode: 1, Stderr: "Error: No such container: mongo1"}, nil
			}
			return &models.ProcessResult{}, nil
		},
	}
	svc := NewWithExecutor(testLogger(), exec)

	_, err := svc.Restore(context.Background(), RestoreOptions{Database: "shop", SourcePath: t.TempDir(), Container: "mongo1"})
	require.Error(t, err)

	for _, call := range exec.calls {
		assert.NotContains(t, call.Args, ToolRestore)
	}
	assert.Equal(t, "rm", exec.calls[len(exec.calls)-1].Args[2])
}

func TestConnectionArgs(t *testing.T) {
	tests := []struct {
		name        string
		conn        models.ConnectionConfig
		inContainer bool
		expected    []string
	}{
		{
			name:     "defaults",
			expected: []string{"--host", "localhost", "--port", "27017"},
		},
		{
			name:     "uri wins",
			conn:     models.ConnectionConfig{URI: "mongodb://h", Host: "other", Username: "u"},
			expected: []string{"--uri", "mongodb://h"},
		},
		{
			name:        "container forces localhost",
			conn:        models.ConnectionConfig{Host: "db.internal", Port: 27018},
			inContainer: true,
			expected:    []string{"--host", "localhost", "--port", "27018"},
		},
		{
			name: "custom auth database without password",
			conn: models.ConnectionConfig{Username: "reader", AuthDatabase: "shop"},
			expected: []string{
				"--host", "localhost", "--port", "27017",
				"--username", "reader", "--authenticationDatabase", "shop",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ConnectionArgs(tt.conn, tt.inContainer))
		})
	}
}

func TestRun_ClassifiesNonZeroExit(t *testing.T) {
	exec := &mockExecutor{
		runFunc: func(_ context.Context, _ executor.Command) (*models.ProcessResult, error) {
			return &models.ProcessResult{ExitCode: 1, Stderr: "Failed: (Unauthorized) not authorized on shop"}, nil
		},
	}
	svc := NewWithExecutor(testLogger(), exec)

	result, err := svc.Restore(context.Background(), RestoreOptions{Database: "shop", SourcePath: "/src"})
	require.Error(t, err)
	require.NotNil(t, result)

	opErr := models.AsOperationError(err)
	assert.Equal(t, models.KindAuthentication, opErr.Kind)
	assert.Equal(t, 1, opErr.ExitCode)
	assert.True(t, strings.HasPrefix(opErr.Message, ToolRestore))
}
