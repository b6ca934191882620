package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fgeck/gomongo-backup/internal/fsutil"
	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/fgeck/gomongo-backup/internal/services/compression"
	"github.com/fgeck/gomongo-backup/internal/services/encryption"
	"github.com/fgeck/gomongo-backup/internal/services/mongo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildArtifact produces a backup artifact of a fake dump with the real codecs.
func buildArtifact(t *testing.T, format models.CompressionFormat, encrypt bool) string {
	t.Helper()

	dumpDir := filepath.Join(t.TempDir(), "shop_20240615")
	_, err := writeDump(dumpDir)
	require.NoError(t, err)

	artifact := dumpDir
	if format != models.CompressionNone {
		artifact, err = compression.New(testLogger()).Compress(context.Background(), dumpDir, dumpDir, format)
		require.NoError(t, err)
	}
	if encrypt {
		artifact, err = encryption.New(testLogger()).Encrypt(context.Background(), artifact, artifact, testKey, nil)
		require.NoError(t, err)
	}
	return artifact
}

func restoreRequest(source string) models.RestoreRequest {
	return models.RestoreRequest{
		Database:   "shop",
		SourcePath: source,
		Connection: models.ConnectionConfig{Host: "localhost", Port: 27017},
	}
}

// expectRestoredDump checks that the restore tool sees the dumped files.
func expectRestoredDump(t *testing.T, f *fixture) {
	t.Helper()
	f.mongo.restoreFunc = func(_ context.Context, opts mongo.RestoreOptions) (*models.ProcessResult, error) {
		assert.FileExists(t, filepath.Join(opts.SourcePath, "shop", "orders.bson"))
		return &models.ProcessResult{Stderr: "1 document(s) restored successfully"}, nil
	}
}

func TestRestore_Sources(t *testing.T) {
	tests := []struct {
		name    string
		format  models.CompressionFormat
		encrypt bool
	}{
		{"directory", models.CompressionNone, false},
		{"zip", models.CompressionZip, false},
		{"targz", models.CompressionTarGz, false},
		{"encrypted targz", models.CompressionTarGz, true},
		{"encrypted zip", models.CompressionZip, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			expectRestoredDump(t, f)
			source := buildArtifact(t, tt.format, tt.encrypt)

			req := restoreRequest(source)
			req.EncryptionKey = testKey
			result := f.svc.Restore(context.Background(), req)

			require.True(t, result.Success, result.Message)
			assert.Equal(t, "1 document(s) restored successfully", result.Stderr)
			require.Len(t, f.mongo.restores, 1)
			assert.Equal(t, "shop", f.mongo.restores[0].Database)
			assert.True(t, fsutil.Exists(source), "source must not be consumed")
			requireEmptyDir(t, f.tempDir)
		})
	}
}

func TestRestore_PassesOptions(t *testing.T) {
	f := newFixture(t)
	source := buildArtifact(t, models.CompressionNone, false)

	req := restoreRequest(source)
	req.Drop = true
	req.Container = models.ContainerConfig{Enabled: true, Name: "mongo1"}

	result := f.svc.Restore(context.Background(), req)

	require.True(t, result.Success, result.Message)
	require.Len(t, f.mongo.restores, 1)
	opts := f.mongo.restores[0]
	assert.True(t, opts.Drop)
	assert.Equal(t, "mongo1", opts.Container)
	assert.Equal(t, source, opts.SourcePath)
	assert.Equal(t, []string{mongo.ToolDocker}, f.tools.required)
}

func TestRestore_TrailingSeparatorInSource(t *testing.T) {
	f := newFixture(t)
	source := buildArtifact(t, models.CompressionNone, false)

	result := f.svc.Restore(context.Background(), restoreRequest(source+string(os.PathSeparator)))

	require.True(t, result.Success, result.Message)
	require.Len(t, f.mongo.restores, 1)
	assert.Equal(t, source, f.mongo.restores[0].SourcePath)
}

func TestRestore_ExplicitFormatOverridesDetection(t *testing.T) {
	f := newFixture(t)
	expectRestoredDump(t, f)

	archive := buildArtifact(t, models.CompressionZip, false)
	renamed := strings.TrimSuffix(archive, ".zip") + ".bak"
	require.NoError(t, os.Rename(archive, renamed))

	req := restoreRequest(renamed)
	req.Compression = models.CompressionZip
	result := f.svc.Restore(context.Background(), req)

	require.True(t, result.Success, result.Message)
	requireEmptyDir(t, f.tempDir)
}

func TestRestore_UnknownFilePassedThrough(t *testing.T) {
	f := newFixture(t)
	source := filepath.Join(t.TempDir(), "orders.bson")
	require.NoError(t, os.WriteFile(source, []byte("bson"), 0o600))

	result := f.svc.Restore(context.Background(), restoreRequest(source))

	require.True(t, result.Success, result.Message)
	assert.Equal(t, source, f.mongo.restores[0].SourcePath)
}

func TestRestore_MissingSource(t *testing.T) {
	f := newFixture(t)

	result := f.svc.Restore(context.Background(), restoreRequest(filepath.Join(t.TempDir(), "missing.tar.gz")))

	require.False(t, result.Success)
	assert.Equal(t, StageValidateSource, result.FailedStage)
	assert.Equal(t, models.KindValidation, result.Kind)
	assert.Empty(t, f.mongo.restores)
}

func TestRestore_EncryptedWithoutKey(t *testing.T) {
	f := newFixture(t)
	source := buildArtifact(t, models.CompressionTarGz, true)

	result := f.svc.Restore(context.Background(), restoreRequest(source))

	require.False(t, result.Success)
	assert.Equal(t, StageDecrypt, result.FailedStage)
	assert.Equal(t, models.KindValidation, result.Kind)
	assert.Contains(t, result.Message, "MONGO_ENCRYPTION_KEY")
	requireEmptyDir(t, f.tempDir)
}

// Every injected failure must leave no temporary file or directory behind.
func TestRestore_CleanupInvariant(t *testing.T) {
	tests := []struct {
		name  string
		stage string
		kind  models.ErrorKind
		setup func(t *testing.T, f *fixture) models.RestoreRequest
	}{
		{
			name:  "wrong key at decrypt",
			stage: StageDecrypt,
			kind:  models.KindCryptographic,
			setup: func(t *testing.T, f *fixture) models.RestoreRequest {
				req := restoreRequest(buildArtifact(t, models.CompressionTarGz, true))
				req.EncryptionKey = "differentkey1234"
				return req
			},
		},
		{
			name:  "corrupt archive at decompress",
			stage: StageDecompress,
			kind:  models.KindCompression,
			setup: func(t *testing.T, f *fixture) models.RestoreRequest {
				broken := filepath.Join(t.TempDir(), "shop.tar.gz")
				require.NoError(t, os.WriteFile(broken, []byte("definitely not gzip"), 0o600))
				encrypted, err := encryption.New(testLogger()).Encrypt(context.Background(), broken, broken, testKey, nil)
				require.NoError(t, err)

				req := restoreRequest(encrypted)
				req.EncryptionKey = testKey
				return req
			},
		},
		{
			name:  "restore tool failure",
			stage: StageRestore,
			kind:  models.KindAuthentication,
			setup: func(t *testing.T, f *fixture) models.RestoreRequest {
				f.mongo.restoreFunc = func(_ context.Context, opts mongo.RestoreOptions) (*models.ProcessResult, error) {
					require.DirExists(t, opts.SourcePath)
					process := &models.ProcessResult{ExitCode: 1, Stderr: "error: Authentication failed."}
					return process, mongo.Classify(mongo.ToolRestore, process)
				}
				req := restoreRequest(buildArtifact(t, models.CompressionZip, true))
				req.EncryptionKey = testKey
				return req
			},
		},
		{
			name:  "cancelled during restore",
			stage: StageRestore,
			kind:  models.KindCancelled,
			setup: func(t *testing.T, f *fixture) models.RestoreRequest {
				f.mongo.restoreFunc = func(_ context.Context, _ mongo.RestoreOptions) (*models.ProcessResult, error) {
					return &models.ProcessResult{ExitCode: -1}, context.Canceled
				}
				req := restoreRequest(buildArtifact(t, models.CompressionTarGz, true))
				req.EncryptionKey = testKey
				return req
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := tt.setup(t, f)

			result := f.svc.Restore(context.Background(), req)

			require.False(t, result.Success)
			assert.Equal(t, tt.stage, result.FailedStage)
			assert.Equal(t, tt.kind, result.Kind)
			requireEmptyDir(t, f.tempDir)
		})
	}
}

func TestRestore_CancelledBetweenStages(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.connection.validateFunc = func(context.Context, models.ConnectionConfig, string) error {
		cancel()
		return nil
	}
	req := restoreRequest(buildArtifact(t, models.CompressionTarGz, true))
	req.EncryptionKey = testKey
	req.Connection.URI = "mongodb://localhost:27017"

	result := f.svc.Restore(ctx, req)

	require.False(t, result.Success)
	assert.Equal(t, StageValidateSource, result.FailedStage)
	assert.Equal(t, models.KindCancelled, result.Kind)
	assert.Empty(t, f.mongo.restores)
	requireEmptyDir(t, f.tempDir)
}

func TestRestore_Notification(t *testing.T) {
	f := newFixture(t)
	f.mongo.restoreFunc = func(context.Context, mongo.RestoreOptions) (*models.ProcessResult, error) {
		return &models.ProcessResult{ExitCode: 1}, &models.OperationError{Kind: models.KindProcess, Message: "mongorestore failed", ExitCode: 1}
	}
	req := restoreRequest(buildArtifact(t, models.CompressionNone, false))
	req.Notify = &models.TelegramConfig{BotToken: "token", ChatID: "chat"}

	result := f.svc.Restore(context.Background(), req)

	require.False(t, result.Success)
	require.Len(t, f.notifier.notifications, 1)
	n := f.notifier.notifications[0]
	assert.Equal(t, models.OperationRestore, n.Operation)
	assert.Equal(t, StageRestore, n.FailedStage)
	assert.Equal(t, "mongorestore failed", n.ErrorMessage)
	assert.Empty(t, n.ArtifactPath)
}

func TestInnerExtension(t *testing.T) {
	assert.Equal(t, ".tar.gz", innerExtension("/b/shop.tar.gz.encrypted"))
	assert.Equal(t, ".zip", innerExtension("/b/shop.ZIP.ENCRYPTED"))
	assert.Equal(t, "", innerExtension("/b/shop.encrypted"))
}
