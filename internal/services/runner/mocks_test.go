package runner

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/fgeck/gomongo-backup/internal/services/compression"
	"github.com/fgeck/gomongo-backup/internal/services/encryption"
	"github.com/fgeck/gomongo-backup/internal/services/mongo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type mockTools struct {
	requireFunc func(ctx context.Context, names ...string) error
	required    []string
}

func (m *mockTools) Check(_ context.Context, names ...string) []models.ToolInfo {
	infos := make([]models.ToolInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, models.ToolInfo{Name: name, Available: true})
	}
	return infos
}

func (m *mockTools) Require(ctx context.Context, names ...string) error {
	m.required = append(m.required, names...)
	if m.requireFunc != nil {
		return m.requireFunc(ctx, names...)
	}
	return nil
}

type mockContainers struct {
	resolveFunc  func(ctx context.Context) (string, error)
	validateFunc func(ctx context.Context, name string) error
	binariesFunc func(ctx context.Context, name string, binaries ...string) error
}

func (m *mockContainers) Detect(ctx context.Context) ([]string, error) {
	name, err := m.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return []string{name}, nil
}

func (m *mockContainers) Resolve(ctx context.Context) (string, error) {
	if m.resolveFunc != nil {
		return m.resolveFunc(ctx)
	}
	return "mongo1", nil
}

func (m *mockContainers) Validate(ctx context.Context, name string) error {
	if m.validateFunc != nil {
		return m.validateFunc(ctx, name)
	}
	return nil
}

func (m *mockContainers) RequireBinaries(ctx context.Context, name string, binaries ...string) error {
	if m.binariesFunc != nil {
		return m.binariesFunc(ctx, name, binaries...)
	}
	return nil
}

type mockConnection struct {
	validateFunc func(ctx context.Context, conn models.ConnectionConfig, container string) error
	calls        int
}

func (m *mockConnection) Validate(ctx context.Context, conn models.ConnectionConfig, container string) error {
	m.calls++
	if m.validateFunc != nil {
		return m.validateFunc(ctx, conn, container)
	}
	return nil
}

type mockMongo struct {
	dumpFunc    func(ctx context.Context, opts mongo.DumpOptions) (*models.ProcessResult, error)
	restoreFunc func(ctx context.Context, opts mongo.RestoreOptions) (*models.ProcessResult, error)
	dumps       []mongo.DumpOptions
	restores    []mongo.RestoreOptions
}

func (m *mockMongo) Dump(ctx context.Context, opts mongo.DumpOptions) (*models.ProcessResult, error) {
	m.dumps = append(m.dumps, opts)
	if m.dumpFunc != nil {
		return m.dumpFunc(ctx, opts)
	}
	return writeDump(opts.OutputPath)
}

func (m *mockMongo) Restore(ctx context.Context, opts mongo.RestoreOptions) (*models.ProcessResult, error) {
	m.restores = append(m.restores, opts)
	if m.restoreFunc != nil {
		return m.restoreFunc(ctx, opts)
	}
	return &models.ProcessResult{}, nil
}

// writeDump imitates the dump tool's output layout.
func writeDump(outputPath string) (*models.ProcessResult, error) {
	dbDir := filepath.Join(outputPath, "shop")
	if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dbDir, "orders.bson"), []byte("bson-orders"), 0o600); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dbDir, "orders.metadata.json"), []byte(`{"indexes":[]}`), 0o600); err != nil {
		return nil, err
	}
	return &models.ProcessResult{Stderr: "done dumping shop.orders (1 document)"}, nil
}

type mockRetention struct {
	cleanupFunc func(ctx context.Context, dir string, policy models.RetentionPolicy) (*models.RetentionReport, error)
	dirs        []string
	policies    []models.RetentionPolicy
}

func (m *mockRetention) Cleanup(ctx context.Context, dir string, policy models.RetentionPolicy) (*models.RetentionReport, error) {
	m.dirs = append(m.dirs, dir)
	m.policies = append(m.policies, policy)
	if m.cleanupFunc != nil {
		return m.cleanupFunc(ctx, dir, policy)
	}
	return &models.RetentionReport{Found: 3, Deleted: 1, Retained: 2, Message: "deleted 1, retained 2"}, nil
}

type mockNotifier struct {
	sendFunc      func(ctx context.Context, cfg models.TelegramConfig, n models.Notification) (*models.TelegramResult, error)
	notifications []models.Notification
}

func (m *mockNotifier) SendNotification(ctx context.Context, cfg models.TelegramConfig, n models.Notification) (*models.TelegramResult, error) {
	m.notifications = append(m.notifications, n)
	if m.sendFunc != nil {
		return m.sendFunc(ctx, cfg, n)
	}
	return &models.TelegramResult{MessageSent: true}, nil
}

type recordingReporter struct {
	mu     sync.Mutex
	stages []string
}

func (r *recordingReporter) Status(stage, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

const testKey = "sixteencharacter"

type fixture struct {
	tools      *mockTools
	containers *mockContainers
	connection *mockConnection
	mongo      *mockMongo
	retention  *mockRetention
	notifier   *mockNotifier
	reporter   *recordingReporter
	tempDir    string
	svc        *Impl
}

// newFixture wires mocks for the tool-driving collaborators and the real
// codecs, with a private temp directory.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		tools:      &mockTools{},
		containers: &mockContainers{},
		connection: &mockConnection{},
		mongo:      &mockMongo{},
		retention:  &mockRetention{},
		notifier:   &mockNotifier{},
		reporter:   &recordingReporter{},
		tempDir:    t.TempDir(),
	}

	f.svc = NewWithCapabilities(testLogger(), Capabilities{
		Tools:      f.tools,
		Containers: f.containers,
		Connection: f.connection,
		Mongo:      f.mongo,
		Compressor: compression.NewWithTempDir(testLogger(), f.tempDir),
		Encryptor:  encryption.New(testLogger()),
		Retention:  f.retention,
		Progress:   f.reporter,
		Notifier:   f.notifier,
	}, f.tempDir)

	return f
}

// requireEmptyDir fails if dir contains anything.
func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.Empty(t, names, "leftover temporary paths in %s", dir)
}
