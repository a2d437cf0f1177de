package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgbatch/internal/downloader"
	"imgbatch/pkg/errors"
	"imgbatch/pkg/logger"
	"imgbatch/pkg/models"
	"imgbatch/pkg/naming"
	"imgbatch/pkg/storage"
)

var utcFormatter = naming.Formatter{Layout: naming.DefaultLayout, Location: time.UTC}

func testOptions() Options {
	return Options{
		Formatter:        utcFormatter,
		DefaultExtension: ".jpg",
		SkipExisting:     true,
	}
}

func rec(row int, account, company, user, url, createTime string) *models.Record {
	return &models.Record{
		Row:           row,
		AccountID:     account,
		CompanyID:     company,
		UserID:        user,
		ImageURL:      url,
		CreateTimeRaw: createTime,
	}
}

// imageServer answers every path with a small body and counts hits per path
func imageServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, hit int) bool) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&hits, 1))
		if handler != nil && handler(w, r, n) {
			return
		}
		w.Write([]byte("img:" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newHTTPCoordinator(t *testing.T, workDir string, cfg downloader.Config, sinks ...Sink) (*Coordinator, *logger.TestLogger) {
	t.Helper()
	log := logger.NewTestLogger()
	mgr := storage.NewManager(workDir)
	dl := downloader.New(cfg, mgr, log)
	return New(testOptions(), mgr, dl, log, sinks...), log
}

func fastConfig() downloader.Config {
	return downloader.Config{
		Timeout:    time.Second,
		MaxRetries: 3,
		UserAgent:  "imgbatch-test",
	}
}

// fakeDownloader records call order and writes nothing
type fakeDownloader struct {
	calls []downloader.Destination
	urls  []string
	fail  map[string]error
}

func (f *fakeDownloader) Download(_ context.Context, rawURL string, dest downloader.Destination) downloader.Result {
	f.calls = append(f.calls, dest)
	f.urls = append(f.urls, rawURL)
	if err, ok := f.fail[rawURL]; ok {
		return downloader.Result{Attempts: 1, Err: err}
	}
	return downloader.Result{Attempts: 1, Bytes: 10}
}

func TestSameSecondRecordsGetSuffixedNames(t *testing.T) {
	srv, _ := imageServer(t, nil)
	workDir := t.TempDir()
	c, _ := newHTTPCoordinator(t, workDir, fastConfig())

	records := []*models.Record{
		rec(0, "10", "1", "100", srv.URL+"/a.jpg", "1696000000"),
		rec(1, "10", "1", "100", srv.URL+"/b.jpg", "1696000000"),
	}

	res, err := c.Run(context.Background(), records)
	require.NoError(t, err)

	require.NotNil(t, records[0].FileName)
	require.NotNil(t, records[1].FileName)
	assert.Equal(t, "0929150640.jpg", *records[0].FileName)
	assert.Equal(t, "0929150640_1.jpg", *records[1].FileName)

	folder := filepath.Join(workDir, "1_10_100")
	data, err := os.ReadFile(filepath.Join(folder, "0929150640.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "img:/a.jpg", string(data))
	data, err = os.ReadFile(filepath.Join(folder, "0929150640_1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "img:/b.jpg", string(data))

	assert.Equal(t, 2, res.Stats.Succeeded)
	assert.Zero(t, res.Stats.ExitCode())
}

func TestPermanent404FailsWithoutRetry(t *testing.T) {
	srv, hits := imageServer(t, func(w http.ResponseWriter, r *http.Request, _ int) bool {
		http.NotFound(w, r)
		return true
	})
	workDir := t.TempDir()
	c, _ := newHTTPCoordinator(t, workDir, fastConfig())

	records := []*models.Record{rec(0, "1", "1", "1", srv.URL+"/missing.jpg", "1696000000")}
	res, err := c.Run(context.Background(), records)
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	o := res.Outcomes[0]
	assert.Equal(t, models.StatusFailed, o.Status)
	assert.Equal(t, 1, o.Attempts)
	assert.Equal(t, errors.KindPermanentDownload, errors.KindOf(o.Err))
	assert.Nil(t, records[0].FileName)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	assert.Equal(t, 2, res.Stats.ExitCode())

	entries, err := os.ReadDir(filepath.Join(workDir, "1_1_1"))
	require.NoError(t, err)
	assert.Empty(t, entries, "no file is left behind on failure")
}

func TestTimeoutsThenSuccessOnThirdAttempt(t *testing.T) {
	srv, hits := imageServer(t, func(w http.ResponseWriter, r *http.Request, hit int) bool {
		if hit <= 2 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return true
		}
		return false
	})

	cfg := fastConfig()
	cfg.Timeout = 50 * time.Millisecond
	c, _ := newHTTPCoordinator(t, t.TempDir(), cfg)

	records := []*models.Record{rec(0, "1", "1", "1", srv.URL+"/slow.png", "1696000000")}
	res, err := c.Run(context.Background(), records)
	require.NoError(t, err)

	o := res.Outcomes[0]
	assert.Equal(t, models.StatusSucceeded, o.Status)
	assert.Equal(t, 3, o.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
	require.NotNil(t, records[0].FileName)
	assert.Equal(t, "0929150640.png", *records[0].FileName)
	assert.Equal(t, 3, res.Stats.Attempts)
}

func TestRetryBoundIsExact(t *testing.T) {
	for _, maxRetries := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("max_retries_%d", maxRetries), func(t *testing.T) {
			srv, hits := imageServer(t, func(w http.ResponseWriter, r *http.Request, _ int) bool {
				w.WriteHeader(http.StatusServiceUnavailable)
				return true
			})
			cfg := fastConfig()
			cfg.MaxRetries = maxRetries
			c, _ := newHTTPCoordinator(t, t.TempDir(), cfg)

			records := []*models.Record{rec(0, "1", "1", "1", srv.URL+"/x.jpg", "5")}
			res, err := c.Run(context.Background(), records)
			require.NoError(t, err)

			assert.Equal(t, maxRetries, res.Outcomes[0].Attempts)
			assert.Equal(t, int32(maxRetries), atomic.LoadInt32(hits))
			assert.Equal(t, errors.KindPermanentDownload, errors.KindOf(res.Outcomes[0].Err))
		})
	}
}

func TestFolderFailureIsolatedToItsRecords(t *testing.T) {
	srv, hits := imageServer(t, nil)
	workDir := t.TempDir()
	c, _ := newHTTPCoordinator(t, workDir, fastConfig())

	records := []*models.Record{
		rec(0, "1", "bad/company", "1", srv.URL+"/a.jpg", "100"),
		rec(1, "1", "good", "1", srv.URL+"/b.jpg", "200"),
		rec(2, "1", "bad/company", "1", srv.URL+"/c.jpg", "300"),
	}

	res, err := c.Run(context.Background(), records)
	require.NoError(t, err)

	for _, i := range []int{0, 2} {
		assert.Nil(t, records[i].FileName, "row %d", i)
	}
	require.NotNil(t, records[1].FileName)
	assert.FileExists(t, filepath.Join(workDir, "good_1_1", *records[1].FileName))

	failed := 0
	for _, o := range res.Outcomes {
		if o.Status == models.StatusFailed {
			failed++
			assert.Equal(t, errors.KindFolderCreation, errors.KindOf(o.Err))
			assert.Zero(t, o.Attempts)
		}
	}
	assert.Equal(t, 2, failed)
	assert.Equal(t, 2, res.Stats.ByClass[errors.KindFolderCreation])
	assert.Equal(t, int32(1), atomic.LoadInt32(hits), "only the good folder issued a request")
}

func TestOrderingAndWriteBackCompleteness(t *testing.T) {
	fake := &fakeDownloader{fail: map[string]error{
		"http://h/fail": errors.New(errors.KindPermanentDownload, "gone"),
	}}
	mgr := storage.NewManager(t.TempDir())
	c := New(testOptions(), mgr, fake, logger.NewTestLogger())

	records := []*models.Record{
		rec(0, "10", "c", "u", "http://h/10-late", "300"),
		rec(1, "9", "c", "u", "http://h/9-only", "999"),
		rec(2, "10", "c", "u", "http://h/10-early", "100"),
		rec(3, "", "c", "u", "http://h/no-account", "100"),
		rec(4, "10", "c", "u", "http://h/10-tie-a", "200"),
		rec(5, "10", "c", "u", "http://h/fail", "200"),
		rec(6, "10", "c", "u", "http://h/bad-time", "yesterday"),
	}

	res, err := c.Run(context.Background(), records)
	require.NoError(t, err)

	// account 9 sorts before 10 numerically; ties keep input order
	assert.Equal(t, []string{
		"http://h/9-only",
		"http://h/10-early",
		"http://h/10-tie-a",
		"http://h/fail",
		"http://h/10-late",
	}, fake.urls)

	require.Len(t, res.Outcomes, len(records))
	seen := make(map[int]int)
	for _, o := range res.Outcomes {
		seen[o.Record.Row]++
		if o.Succeeded() {
			require.NotNil(t, o.Record.FileName)
			assert.Equal(t, o.FileName, *o.Record.FileName)
		} else {
			assert.Nil(t, o.Record.FileName)
		}
	}
	for _, r := range records {
		assert.Equal(t, 1, seen[r.Row], "row %d", r.Row)
	}

	assert.Equal(t, 3, res.Outcomes[0].Record.Row)
	assert.Equal(t, 6, res.Outcomes[1].Record.Row)
	assert.Equal(t, 2, res.Stats.Rejected)
	assert.Equal(t, 3, res.Stats.Failed)
	assert.Equal(t, 4, res.Stats.Succeeded)
	assert.Same(t, records[0], res.Records[0])
}

func TestNamesAreUniquePerFolderAndDeterministic(t *testing.T) {
	build := func() []*models.Record {
		var out []*models.Record
		for i := 0; i < 6; i++ {
			user := "u1"
			if i%2 == 1 {
				user = "u2"
			}
			out = append(out, rec(i, "1", "c", user, fmt.Sprintf("http://h/%d.webp", i), "1696000000"))
		}
		return out
	}

	run := func() []string {
		fake := &fakeDownloader{}
		c := New(testOptions(), storage.NewManager(t.TempDir()), fake, nil)
		records := build()
		_, err := c.Run(context.Background(), records)
		require.NoError(t, err)

		names := make([]string, len(records))
		for i, r := range records {
			require.NotNil(t, r.FileName)
			names[i] = *r.FileName
		}
		return names
	}

	first := run()
	assert.Equal(t, first, run())

	perFolder := map[string]map[string]bool{}
	for i, name := range first {
		folder := "u1"
		if i%2 == 1 {
			folder = "u2"
		}
		if perFolder[folder] == nil {
			perFolder[folder] = map[string]bool{}
		}
		assert.False(t, perFolder[folder][name], "duplicate %s in %s", name, folder)
		perFolder[folder][name] = true
	}
	assert.Equal(t, []string{
		"0929150640.webp", "0929150640.webp",
		"0929150640_1.webp", "0929150640_1.webp",
		"0929150640_2.webp", "0929150640_2.webp",
	}, first)
}

func TestSkipExistingMakesNoRequest(t *testing.T) {
	workDir := t.TempDir()
	mgr := storage.NewManager(workDir)
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "c_1_u"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "c_1_u", "0929150640.jpg"), []byte("old"), 0644))

	fake := &fakeDownloader{}
	c := New(testOptions(), mgr, fake, nil)

	records := []*models.Record{
		rec(0, "1", "c", "u", "http://h/a", "1696000000"),
		rec(1, "1", "c", "u", "http://h/b", "1696000000"),
	}
	res, err := c.Run(context.Background(), records)
	require.NoError(t, err)

	assert.True(t, res.Outcomes[0].Skipped)
	assert.Equal(t, "0929150640.jpg", *records[0].FileName)
	assert.False(t, res.Outcomes[1].Skipped)
	assert.Equal(t, "0929150640_1.jpg", *records[1].FileName)
	assert.Equal(t, []string{"http://h/b"}, fake.urls)
	assert.Equal(t, 1, res.Stats.Skipped)

	opts := testOptions()
	opts.SkipExisting = false
	fake = &fakeDownloader{}
	_, err = New(opts, mgr, fake, nil).Run(context.Background(), []*models.Record{rec(0, "1", "c", "u", "http://h/a", "1696000000")})
	require.NoError(t, err)
	assert.Len(t, fake.urls, 1)
}

func TestAccountFilterLeavesOtherRecordsUntouched(t *testing.T) {
	fake := &fakeDownloader{}
	opts := testOptions()
	opts.Accounts = []string{"2"}
	c := New(opts, storage.NewManager(t.TempDir()), fake, nil)

	other := rec(0, "1", "c", "u", "http://h/1", "1")
	other.SetFileName("kept.jpg")
	records := []*models.Record{other, rec(1, "2", "c", "u", "http://h/2", "1")}

	res, err := c.Run(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, []string{"http://h/2"}, fake.urls)
	assert.Len(t, res.Outcomes, 1)
	assert.Equal(t, "kept.jpg", *records[0].FileName)
	assert.NotNil(t, records[1].FileName)
}

func TestAccountFilterSkipsValidationOfExcludedRecords(t *testing.T) {
	fake := &fakeDownloader{}
	opts := testOptions()
	opts.Accounts = []string{"2"}
	c := New(opts, storage.NewManager(t.TempDir()), fake, nil)

	excluded := rec(0, "1", "c", "u", "http://h/1", "not-a-time")
	excluded.SetFileName("kept.jpg")
	records := []*models.Record{excluded, rec(1, "2", "c", "u", "http://h/2", "1")}

	res, err := c.Run(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Stats.Failed)
	assert.Equal(t, 0, res.Stats.Rejected)
	assert.Equal(t, 0, res.Stats.ExitCode())
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, 1, res.Outcomes[0].Record.Row)
	require.NotNil(t, records[0].FileName)
	assert.Equal(t, "kept.jpg", *records[0].FileName)
}

func TestCancelledRunStopsBeforeNextRecord(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := &fakeDownloader{}
	c := New(testOptions(), storage.NewManager(t.TempDir()), fake, nil)
	records := []*models.Record{
		rec(0, "1", "c", "u", "http://h/1", "1"),
		rec(1, "", "c", "u", "http://h/2", "1"),
	}

	res, err := c.Run(ctx, records)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Empty(t, fake.urls)
	require.Len(t, res.Outcomes, 1, "rejections are still reported")
	assert.Equal(t, 1, res.Outcomes[0].Record.Row)
}

type recordingSink struct {
	started  string
	total    int
	outcomes int
	finished bool
	err      error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Start(_ context.Context, runID string, total int) error {
	s.started, s.total = runID, total
	return s.err
}

func (s *recordingSink) Record(context.Context, models.Outcome, storage.TargetFolder) error {
	s.outcomes++
	return s.err
}

func (s *recordingSink) Finish(context.Context, *Result) error {
	s.finished = true
	return s.err
}

func TestSinkErrorsAreLoggedOnly(t *testing.T) {
	log := logger.NewTestLogger()
	sink := &recordingSink{err: fmt.Errorf("sink broken")}
	c := New(testOptions(), storage.NewManager(t.TempDir()), &fakeDownloader{}, log, sink)
	c.newID = func() string { return "run-42" }

	records := []*models.Record{rec(0, "1", "c", "u", "http://h/1", "1"), rec(1, "1", "c", "u", "http://h/2", "2")}
	res, err := c.Run(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, "run-42", res.RunID)
	assert.Equal(t, "run-42", sink.started)
	assert.Equal(t, 2, sink.total)
	assert.Equal(t, 2, sink.outcomes)
	assert.True(t, sink.finished)
	assert.Equal(t, 2, res.Stats.Succeeded)
	assert.Len(t, log.FindMessages("Sink failed"), 4)
}

func TestRunLogsOutcomesAndSummary(t *testing.T) {
	log := logger.NewTestLogger()
	c := New(testOptions(), storage.NewManager(t.TempDir()), &fakeDownloader{}, log)

	_, err := c.Run(context.Background(), []*models.Record{rec(0, "1", "c", "u", "http://h/1", "1")})
	require.NoError(t, err)

	assert.True(t, log.HasMessage("Starting run"))
	summaries := log.FindMessages("Run finished")
	require.NotEmpty(t, summaries)
	assert.Equal(t, 1, summaries[0].Fields["succeeded"])

	var outcomeLines int
	for _, m := range log.GetMessages() {
		if _, ok := m.Fields["attempts"]; ok && strings.HasPrefix(m.Message, "Record") {
			outcomeLines++
		}
	}
	assert.Equal(t, 1, outcomeLines)
}
