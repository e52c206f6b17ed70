package analysis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/sonargate/internal/analysis/mocks"
	"github.com/mattjoyce/sonargate/internal/archive"
	"github.com/mattjoyce/sonargate/internal/events"
	"github.com/mattjoyce/sonargate/internal/jobs"
	"github.com/mattjoyce/sonargate/internal/poller"
	"github.com/mattjoyce/sonargate/internal/scanner"
	"github.com/mattjoyce/sonargate/internal/sonar"
	"github.com/mattjoyce/sonargate/internal/workspace"
)

const testToken = "job_0123456789abcdef0123456789abcdef"

type fixture struct {
	ctrl       *gomock.Controller
	workspaces *mocks.MockWorkspaces
	extractor  *mocks.MockExtractor
	scanner    *mocks.MockScanner
	waiter     *mocks.MockWaiter
	issues     *mocks.MockIssueSearcher
	jobs       *mocks.MockJobRecorder
	hub        *events.Hub
	wsDir      string
	pipeline   *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		ctrl:       ctrl,
		workspaces: mocks.NewMockWorkspaces(ctrl),
		extractor:  mocks.NewMockExtractor(ctrl),
		scanner:    mocks.NewMockScanner(ctrl),
		waiter:     mocks.NewMockWaiter(ctrl),
		issues:     mocks.NewMockIssueSearcher(ctrl),
		jobs:       mocks.NewMockJobRecorder(ctrl),
		hub:        events.NewHub(32),
		wsDir:      t.TempDir(),
	}
	f.pipeline = &Pipeline{
		Workspaces:     f.workspaces,
		Extractor:      f.extractor,
		Scanner:        f.scanner,
		Waiter:         f.waiter,
		Issues:         f.issues,
		Jobs:           f.jobs,
		Events:         f.hub,
		Engine:         Engine{URL: "http://sonarqube:9000", Token: "squ_token"},
		PageSize:       500,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewToken:       func() string { return testToken },
		NewWorkspaceID: func() string { return "ws_test" },
	}
	return f
}

// expectWorkspace expects one workspace to be created and removed.
func (f *fixture) expectWorkspace() {
	f.workspaces.EXPECT().Create(gomock.Any(), "ws_test").
		Return(workspace.Workspace{ID: "ws_test", Dir: f.wsDir}, nil)
	f.workspaces.EXPECT().Remove(gomock.Any(), "ws_test").Return(nil)
}

func (f *fixture) expectExtract() string {
	projectDir := filepath.Join(f.wsDir, archive.ProjectDirName)
	f.extractor.EXPECT().ExtractFile(gomock.Any(), filepath.Join(f.wsDir, uploadFileName), f.wsDir).
		Return(projectDir, nil)
	return projectDir
}

func (f *fixture) expectJobRecorded() {
	f.jobs.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, j jobs.Job) error {
		if j.ID != testToken || j.ArchiveDigest == "" {
			return errors.New("unexpected job record")
		}
		return nil
	})
	f.jobs.EXPECT().SetStage(gomock.Any(), testToken, gomock.Any()).Return(nil).AnyTimes()
}

func (f *fixture) eventTypes() []string {
	var out []string
	for _, ev := range f.hub.SnapshotSince(0) {
		out = append(out, ev.Type)
	}
	return out
}

func upload() Upload {
	return Upload{Filename: "src.zip", Body: strings.NewReader("PK\x03\x04 pretend zip")}
}

func intPtr(v int) *int { return &v }

func TestRunSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.expectWorkspace()
	projectDir := f.expectExtract()
	f.expectJobRecorded()

	found := []sonar.Issue{
		{Key: "AX1", Rule: "java:S2076", Severity: "CRITICAL", Component: testToken + ":A.java", Line: intPtr(7), Message: "m", Type: "VULNERABILITY"},
	}
	gomock.InOrder(
		f.scanner.EXPECT().Scan(gomock.Any(), scanner.Request{
			ProjectDir: projectDir,
			ProjectKey: testToken,
			HostURL:    "http://sonarqube:9000",
			Token:      "squ_token",
		}).Return(scanner.Result{}, nil),
		f.waiter.EXPECT().Wait(gomock.Any(), testToken).Return(poller.Outcome{Attempts: 3, Status: "SUCCESS"}, nil),
		f.issues.EXPECT().SearchIssues(gomock.Any(), testToken, 500).Return(found, nil),
	)
	f.jobs.EXPECT().Complete(gomock.Any(), testToken, jobs.Completion{
		Status:       jobs.StatusSucceeded,
		Stage:        jobs.StageDone,
		IssueCount:   1,
		PollAttempts: 3,
	}).Return(nil)

	res, err := f.pipeline.Run(ctx, upload())
	require.NoError(t, err)
	assert.Equal(t, testToken, res.JobID)
	assert.Equal(t, 1, res.TotalCount)
	assert.Equal(t, found, res.Issues)
	assert.Len(t, res.ArchiveDigest, 64)

	// The archive was stored inside the workspace before extraction.
	data, err := os.ReadFile(filepath.Join(f.wsDir, uploadFileName))
	require.NoError(t, err)
	assert.Equal(t, "PK\x03\x04 pretend zip", string(data))

	types := f.eventTypes()
	require.NotEmpty(t, types)
	assert.Equal(t, events.TypeAnalysisStarted, types[0])
	assert.Equal(t, events.TypeAnalysisSucceeded, types[len(types)-1])
}

func TestRunEmptyIssuesIsSuccess(t *testing.T) {
	f := newFixture(t)
	f.expectWorkspace()
	f.expectExtract()
	f.expectJobRecorded()
	f.scanner.EXPECT().Scan(gomock.Any(), gomock.Any()).Return(scanner.Result{}, nil)
	f.waiter.EXPECT().Wait(gomock.Any(), testToken).Return(poller.Outcome{Attempts: 1}, nil)
	f.issues.EXPECT().SearchIssues(gomock.Any(), testToken, 500).Return(nil, nil)
	f.jobs.EXPECT().Complete(gomock.Any(), testToken, gomock.Any()).Return(nil)

	res, err := f.pipeline.Run(context.Background(), upload())
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalCount)
	assert.NotNil(t, res.Issues)
}

func TestRunScannerFailureNeverPolls(t *testing.T) {
	f := newFixture(t)
	f.expectWorkspace()
	f.expectExtract()
	f.expectJobRecorded()
	f.scanner.EXPECT().Scan(gomock.Any(), gomock.Any()).
		Return(scanner.Result{ExitCode: 1}, &scanner.Error{ExitCode: 1, Stderr: "ERROR: boom"})
	f.jobs.EXPECT().Complete(gomock.Any(), testToken, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, c jobs.Completion) error {
			assert.Equal(t, jobs.StatusFailed, c.Status)
			assert.Equal(t, jobs.StageScan, c.Stage)
			assert.Equal(t, "ScannerError", c.ErrorKind)
			return nil
		})
	// No Wait or SearchIssues expectations: gomock fails the test if they run.

	_, err := f.pipeline.Run(context.Background(), upload())
	require.Error(t, err)
	assert.Equal(t, KindScanner, KindOf(err))
	assert.True(t, strings.HasPrefix(err.Error(), "Scanner Error: "), err.Error())
	assert.NotContains(t, err.Error(), "boom", "stderr stays in logs")

	types := f.eventTypes()
	assert.Equal(t, events.TypeAnalysisFailed, types[len(types)-1])
}

func TestRunArchiveFailureStopsBeforeToken(t *testing.T) {
	f := newFixture(t)
	f.expectWorkspace()
	f.extractor.EXPECT().ExtractFile(gomock.Any(), gomock.Any(), f.wsDir).
		Return("", errors.Join(archive.ErrUnsafePath, errors.New(`"../evil"`)))
	f.pipeline.NewToken = func() string {
		t.Fatal("token minted after failed extraction")
		return ""
	}

	_, err := f.pipeline.Run(context.Background(), upload())
	require.Error(t, err)
	assert.Equal(t, KindArchive, KindOf(err))
	assert.True(t, strings.HasPrefix(err.Error(), "Zip Error: "))
	assert.Empty(t, f.eventTypes(), "no job events before a token exists")
}

func TestRunPollFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"terminal", &poller.TerminalError{Status: "FAILED"}},
		{"canceled task", &poller.TerminalError{Status: "CANCELED"}},
		{"timeout", poller.ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.expectWorkspace()
			f.expectExtract()
			f.expectJobRecorded()
			f.scanner.EXPECT().Scan(gomock.Any(), gomock.Any()).Return(scanner.Result{}, nil)
			f.waiter.EXPECT().Wait(gomock.Any(), testToken).Return(poller.Outcome{Attempts: 60}, tt.err)
			f.jobs.EXPECT().Complete(gomock.Any(), testToken, gomock.Any()).Return(nil)

			_, err := f.pipeline.Run(context.Background(), upload())
			assert.Equal(t, KindAPI, KindOf(err))
			assert.True(t, strings.HasPrefix(err.Error(), "SonarQube API Error: "))
		})
	}
}

func TestRunFetchFailure(t *testing.T) {
	f := newFixture(t)
	f.expectWorkspace()
	f.expectExtract()
	f.expectJobRecorded()
	f.scanner.EXPECT().Scan(gomock.Any(), gomock.Any()).Return(scanner.Result{}, nil)
	f.waiter.EXPECT().Wait(gomock.Any(), testToken).Return(poller.Outcome{Attempts: 1}, nil)
	f.issues.EXPECT().SearchIssues(gomock.Any(), testToken, 500).
		Return(nil, &sonar.APIError{Endpoint: "/api/issues/search", StatusCode: 401})
	f.jobs.EXPECT().Complete(gomock.Any(), testToken, gomock.Any()).Return(nil)

	_, err := f.pipeline.Run(context.Background(), upload())
	assert.Equal(t, KindAPI, KindOf(err))
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestRunWorkspaceFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.workspaces.EXPECT().Create(gomock.Any(), "ws_test").Return(workspace.Workspace{}, errors.New("read-only file system"))

	_, err := f.pipeline.Run(context.Background(), upload())
	assert.Equal(t, KindInternal, KindOf(err))
	assert.True(t, strings.HasPrefix(err.Error(), "Internal Error: "))
}

func TestRunJobRecordFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.expectWorkspace()
	f.expectExtract()
	f.jobs.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("database is locked"))

	_, err := f.pipeline.Run(context.Background(), upload())
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestRunCancelledDuringScanReleasesWorkspace(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	f.expectWorkspace()
	f.expectExtract()
	f.expectJobRecorded()
	f.scanner.EXPECT().Scan(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ scanner.Request) (scanner.Result, error) {
			cancel()
			<-ctx.Done()
			return scanner.Result{ExitCode: -1}, ctx.Err()
		})
	f.jobs.EXPECT().Complete(gomock.Any(), testToken, gomock.Any()).Return(nil)

	_, err := f.pipeline.Run(ctx, upload())
	assert.Equal(t, KindInternal, KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunWithoutOptionalDependencies(t *testing.T) {
	f := newFixture(t)
	f.pipeline.Jobs = nil
	f.pipeline.Events = nil

	f.expectWorkspace()
	f.expectExtract()
	f.scanner.EXPECT().Scan(gomock.Any(), gomock.Any()).Return(scanner.Result{}, nil)
	f.waiter.EXPECT().Wait(gomock.Any(), testToken).Return(poller.Outcome{Attempts: 1}, nil)
	f.issues.EXPECT().SearchIssues(gomock.Any(), testToken, 500).Return([]sonar.Issue{}, nil)

	_, err := f.pipeline.Run(context.Background(), upload())
	assert.NoError(t, err)
}
