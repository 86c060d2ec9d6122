package downloader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iconidentify/ytclip/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDownloader struct {
	body  string
	err   error
	calls []string
}

func (f *fakeDownloader) Download(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	f.calls = append(f.calls, url)
	if f.err != nil {
		return nil, 0, f.err
	}
	return io.NopCloser(strings.NewReader(f.body)), int64(len(f.body)), nil
}

type fakeStreamSource struct {
	reader io.ReadCloser
	total  int64
	err    error
	calls  []int
}

func (f *fakeStreamSource) Stream(ctx context.Context, id domain.VideoID, format domain.StreamFormat) (io.ReadCloser, int64, error) {
	f.calls = append(f.calls, format.Itag)
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.reader, f.total, nil
}

// blockingReader never returns data until closed.
type blockingReader struct {
	once   sync.Once
	closed chan struct{}
}

func newBlockingReader() *blockingReader {
	return &blockingReader{closed: make(chan struct{})}
}

func (b *blockingReader) Read(p []byte) (int, error) {
	<-b.closed
	return 0, io.ErrClosedPipe
}

func (b *blockingReader) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func TestFetcher_DirectPath(t *testing.T) {
	direct := &fakeDownloader{body: "raw media bytes"}
	library := &fakeStreamSource{}
	f := NewFetcher(direct, library, testConfig(), testLogger())

	dest := filepath.Join(t.TempDir(), "raw.mp4")
	var reports []domain.TransferProgress
	n, err := f.Fetch(context.Background(), FetchRequest{
		VideoID:    "abc",
		Format:     domain.StreamFormat{Itag: 18, URL: "https://media.example/v.mp4"},
		Dest:       dest,
		OnProgress: func(p domain.TransferProgress) { reports = append(reports, p) },
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if n != int64(len("raw media bytes")) {
		t.Errorf("n = %d, want %d", n, len("raw media bytes"))
	}
	if len(direct.calls) != 1 || direct.calls[0] != "https://media.example/v.mp4" {
		t.Errorf("direct calls = %v", direct.calls)
	}
	if len(library.calls) != 0 {
		t.Errorf("library should not be used, got %d calls", len(library.calls))
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if string(data) != "raw media bytes" {
		t.Errorf("content = %q", string(data))
	}

	if len(reports) == 0 {
		t.Fatal("expected at least the final progress report")
	}
	last := reports[len(reports)-1]
	if last.Downloaded != n || last.Total != n {
		t.Errorf("final progress = %+v, want %d/%d", last, n, n)
	}
}

func TestFetcher_LibraryPath(t *testing.T) {
	direct := &fakeDownloader{}
	library := &fakeStreamSource{
		reader: io.NopCloser(strings.NewReader("library bytes")),
		total:  13,
	}
	f := NewFetcher(direct, library, testConfig(), testLogger())

	dest := filepath.Join(t.TempDir(), "raw.mp4")
	n, err := f.Fetch(context.Background(), FetchRequest{
		VideoID: "abc",
		Format:  domain.StreamFormat{Itag: 22},
		Dest:    dest,
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if n != 13 {
		t.Errorf("n = %d, want 13", n)
	}
	if len(direct.calls) != 0 {
		t.Errorf("direct should not be used, got %v", direct.calls)
	}
	if len(library.calls) != 1 || library.calls[0] != 22 {
		t.Errorf("library calls = %v, want [22]", library.calls)
	}
}

func TestFetcher_OpenError(t *testing.T) {
	direct := &fakeDownloader{err: domain.ErrURLExpired}
	f := NewFetcher(direct, nil, testConfig(), testLogger())

	dest := filepath.Join(t.TempDir(), "raw.mp4")
	_, err := f.Fetch(context.Background(), FetchRequest{
		VideoID: "abc",
		Format:  domain.StreamFormat{URL: "https://media.example/v.mp4"},
		Dest:    dest,
	})
	if !errors.Is(err, domain.ErrURLExpired) {
		t.Fatalf("err = %v, want ErrURLExpired", err)
	}

	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("no file should be created when the stream cannot be opened")
	}
}

func TestFetcher_EmptyStream(t *testing.T) {
	direct := &fakeDownloader{body: ""}
	f := NewFetcher(direct, nil, testConfig(), testLogger())

	_, err := f.Fetch(context.Background(), FetchRequest{
		VideoID: "abc",
		Format:  domain.StreamFormat{URL: "https://media.example/v.mp4"},
		Dest:    filepath.Join(t.TempDir(), "raw.mp4"),
	})
	if !errors.Is(err, domain.ErrEmptyArtifact) {
		t.Fatalf("err = %v, want ErrEmptyArtifact", err)
	}
}

func TestFetcher_ShortTransfer(t *testing.T) {
	library := &fakeStreamSource{
		reader: io.NopCloser(strings.NewReader("half")),
		total:  100,
	}
	f := NewFetcher(nil, library, testConfig(), testLogger())

	_, err := f.Fetch(context.Background(), FetchRequest{
		VideoID: "abc",
		Dest:    filepath.Join(t.TempDir(), "raw.mp4"),
	})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want ErrUnexpectedEOF", err)
	}
}

func TestFetcher_DestinationExists(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "raw.mp4")
	if err := os.WriteFile(dest, []byte("other request"), 0644); err != nil {
		t.Fatal(err)
	}

	direct := &fakeDownloader{body: "bytes"}
	f := NewFetcher(direct, nil, testConfig(), testLogger())

	_, err := f.Fetch(context.Background(), FetchRequest{
		VideoID: "abc",
		Format:  domain.StreamFormat{URL: "https://media.example/v.mp4"},
		Dest:    dest,
	})
	if err == nil {
		t.Fatal("Fetch should refuse to overwrite an existing artifact")
	}

	data, _ := os.ReadFile(dest)
	if string(data) != "other request" {
		t.Errorf("existing file was modified: %q", string(data))
	}
}

func TestFetcher_Stall(t *testing.T) {
	cfg := testConfig()
	cfg.ReadTimeout = 50 * time.Millisecond

	library := &fakeStreamSource{reader: newBlockingReader(), total: 10}
	f := NewFetcher(nil, library, cfg, testLogger())

	dest := filepath.Join(t.TempDir(), "raw.mp4")
	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch(context.Background(), FetchRequest{
			VideoID: "abc",
			Dest:    dest,
		})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStalled) {
			t.Errorf("err = %v, want ErrStalled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch did not abort a stalled stream")
	}
}

func TestFetcher_NoSourceForFormat(t *testing.T) {
	f := NewFetcher(nil, nil, testConfig(), testLogger())

	_, err := f.Fetch(context.Background(), FetchRequest{
		VideoID: "abc",
		Dest:    filepath.Join(t.TempDir(), "raw.mp4"),
	})
	if err == nil {
		t.Fatal("expected error when no stream source is configured")
	}
}
