package ingest_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/truthledger/ledger/internal/fetch"
	"github.com/truthledger/ledger/internal/ingest"
	"github.com/truthledger/ledger/internal/model"
	"github.com/truthledger/ledger/internal/storage"
	"github.com/truthledger/ledger/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		slog.Error("ingest_test: failed to set up test database", "error", err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func mustSource(t *testing.T, name string) model.Source {
	t.Helper()
	src, err := testDB.CreateSource(context.Background(), model.Source{Name: name, Type: model.SourceNews, BaseTrust: 0.6})
	require.NoError(t, err)
	return src
}

func TestUpsertDocumentCreatesNewRow(t *testing.T) {
	src := mustSource(t, "upsert-new")
	ig := ingest.NewIngestor(testDB, nil, nil)

	doc, err := ig.UpsertDocument(context.Background(), src.ID, nil, "some unique body text", model.DocNewsArticle, nil)
	require.NoError(t, err)
	require.NotEqual(t, [16]byte{}, doc.ID)
	require.Nil(t, doc.Supersedes)
}

func TestUpsertDocumentSameContentReturnsUnchanged(t *testing.T) {
	src := mustSource(t, "upsert-dedup")
	ig := ingest.NewIngestor(testDB, nil, nil)
	ctx := context.Background()

	first, err := ig.UpsertDocument(ctx, src.ID, nil, "identical body for dedup", model.DocNewsArticle, nil)
	require.NoError(t, err)

	second, err := ig.UpsertDocument(ctx, src.ID, nil, "identical body for dedup", model.DocNewsArticle, nil)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestUpsertDocumentChangedContentSetsSupersedes(t *testing.T) {
	src := mustSource(t, "upsert-supersede")
	ig := ingest.NewIngestor(testDB, nil, nil)
	ctx := context.Background()
	url := "https://example.com/article-1"

	first, err := ig.UpsertDocument(ctx, src.ID, &url, "original body", model.DocNewsArticle, nil)
	require.NoError(t, err)

	second, err := ig.UpsertDocument(ctx, src.ID, &url, "revised body thirty days later", model.DocNewsArticle, nil)
	require.NoError(t, err)

	require.NotEqual(t, first.ID, second.ID)
	require.NotNil(t, second.Supersedes)
	require.Equal(t, first.ID, *second.Supersedes)
}

func TestFetchAndIngestSnippetizesOnce(t *testing.T) {
	src := mustSource(t, "fetch-and-ingest")
	url := "https://example.com/report"
	fetcher := fetch.StaticFetcher{Results: map[string]fetch.Result{
		url: {FinalURL: url, ContentType: "text/plain", RawBytes: []byte("Paragraph one.\n\nParagraph two has more detail.")},
	}}
	ig := ingest.NewIngestor(testDB, fetcher, fetch.PlainTextReadability{})

	target := ingest.Target{SourceID: src.ID, URL: url, DocType: model.DocNewsArticle}
	doc, err := ig.FetchAndIngest(context.Background(), target)
	require.NoError(t, err)

	snippets, err := testDB.GetSnippetsByDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, snippets, 2)

	// Re-ingesting the same fetch result must not duplicate snippets.
	_, err = ig.FetchAndIngest(context.Background(), target)
	require.NoError(t, err)
	again, err := testDB.GetSnippetsByDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, again, 2)
}

func TestFetchAndIngestPropagatesFetchError(t *testing.T) {
	src := mustSource(t, "fetch-error")
	url := "https://example.com/missing"
	fetcher := fetch.StaticFetcher{}
	ig := ingest.NewIngestor(testDB, fetcher, fetch.PlainTextReadability{})

	_, err := ig.FetchAndIngest(context.Background(), ingest.Target{SourceID: src.ID, URL: url, DocType: model.DocOther})
	require.Error(t, err)
}

func TestHTTPFetcherErrorsOnUnreachableHost(t *testing.T) {
	f := fetch.NewHTTPFetcher()
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/nonexistent", 2*time.Second)
	require.Error(t, err)
}
