package institutions

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/routing-export/internal/testutil"
	"github.com/Sternrassler/routing-export/pkg/client"
	"github.com/Sternrassler/routing-export/pkg/export"
	"github.com/Sternrassler/routing-export/pkg/logging"
	"github.com/Sternrassler/routing-export/pkg/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) Config {
	cfg := DefaultConfig("id", "secret")
	cfg.Client.BaseURL = baseURL
	cfg.Pagination.PageSize = 4
	cfg.Pagination.Delay = time.Millisecond
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("id", "secret")

	assert.Equal(t, client.SandboxBaseURL, cfg.Client.BaseURL)
	assert.Equal(t, 500, cfg.Pagination.PageSize)
	assert.Equal(t, 30*time.Second, cfg.Pagination.Delay)
}

func TestFetchAllInstitutions(t *testing.T) {
	data := testutil.Institutions(10)
	mock := testutil.NewMockPlaid(data)
	defer mock.Close()

	all, err := FetchAllInstitutions(context.Background(), testConfig(mock.URL()))
	require.NoError(t, err)

	assert.Equal(t, data, all)
	assert.Equal(t, 3, mock.RequestCount())
	for _, req := range mock.Requests() {
		_, present := req.Raw["routing_numbers"]
		assert.False(t, present)
	}
}

func TestFetchInstitutionsByRoutingNumbers(t *testing.T) {
	data := []routing.Institution{
		{Name: "A", InstitutionID: "1", RoutingNumbers: []string{"111"}},
		{Name: "B", InstitutionID: "2", RoutingNumbers: []string{"222", "333"}},
		{Name: "C", InstitutionID: "3", RoutingNumbers: []string{"444"}},
	}
	mock := testutil.NewMockPlaid(data)
	defer mock.Close()

	found, err := FetchInstitutionsByRoutingNumbers(context.Background(), testConfig(mock.URL()), []string{"333", "444"})
	require.NoError(t, err)

	require.Len(t, found, 2)
	assert.Equal(t, "2", found[0].InstitutionID)
	assert.Equal(t, "3", found[1].InstitutionID)
	assert.Equal(t, []string{"333", "444"}, mock.Requests()[0].RoutingNumbers)
}

func TestFetchAllInstitutions_ThroughProxy(t *testing.T) {
	mock := testutil.NewMockPlaid(testutil.Institutions(6))
	defer mock.Close()
	proxy := testutil.NewMockProxy()
	defer proxy.Close()

	cfg := testConfig(mock.URL())
	cfg.Client.UseProxy = true
	cfg.Client.Proxy = client.ProxyConfig{Host: proxy.Addr(), Username: "u", Password: "p"}

	all, err := FetchAllInstitutions(context.Background(), cfg)
	require.NoError(t, err)

	assert.Len(t, all, 6)
	assert.Equal(t, 2, proxy.RequestCount())
	for _, auth := range proxy.AuthHeaders() {
		assert.Equal(t, "Basic dTpw", auth)
	}
}

func TestFetchAllInstitutions_InvalidClientConfig(t *testing.T) {
	cfg := testConfig("")

	_, err := FetchAllInstitutions(context.Background(), cfg)
	assert.ErrorContains(t, err, "base url is required")
}

func TestExportRoutingNumbers(t *testing.T) {
	data := []routing.Institution{
		{Name: "A", InstitutionID: "1", RoutingNumbers: []string{"111"}},
		{Name: "B", InstitutionID: "2", RoutingNumbers: []string{"222", "333"}},
		{Name: "NoRouting", InstitutionID: "9"},
	}
	mock := testutil.NewMockPlaid(data)
	defer mock.Close()
	path := filepath.Join(t.TempDir(), export.DefaultPath)

	result, err := ExportRoutingNumbers(context.Background(), testConfig(mock.URL()), path, nil)
	require.NoError(t, err)

	assert.Equal(t, path, result.Path)
	assert.Equal(t, 3, result.Institutions)
	assert.Equal(t, 3, result.Rows)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Bank Name,Institution ID,Routing Number\nA,1,111\nB,2,222\nB,2,333\n", string(got))
}

func TestExportRoutingNumbers_UpstreamFailureWritesNothing(t *testing.T) {
	mock := testutil.NewMockPlaid(testutil.Institutions(10))
	defer mock.Close()
	mock.SetResponse(2, testutil.NewServerErrorResponse())
	path := filepath.Join(t.TempDir(), "out.csv")

	result, err := ExportRoutingNumbers(context.Background(), testConfig(mock.URL()), path, nil)

	assert.Nil(t, result)
	var upErr *client.UpstreamRequestError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, 500, upErr.StatusCode)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchAllInstitutions_FailureNotLoggedAsError(t *testing.T) {
	var buf bytes.Buffer
	logging.Setup(logging.Config{Level: logging.LevelDebug, Output: &buf})
	defer logging.Setup(logging.DefaultConfig())

	mock := testutil.NewMockPlaid(testutil.Institutions(10))
	defer mock.Close()
	mock.SetResponse(2, testutil.NewServerErrorResponse())

	_, err := FetchAllInstitutions(context.Background(), testConfig(mock.URL()))
	require.Error(t, err)

	assert.NotEmpty(t, buf.String())
	assert.NotContains(t, buf.String(), `"level":"error"`)
}

func TestExportRoutingNumbers_WriteFailure(t *testing.T) {
	mock := testutil.NewMockPlaid(testutil.Institutions(3))
	defer mock.Close()
	path := filepath.Join(t.TempDir(), "missing", "out.csv")

	_, err := ExportRoutingNumbers(context.Background(), testConfig(mock.URL()), path, nil)

	var fwErr *export.FileWriteError
	require.ErrorAs(t, err, &fwErr)
	assert.Equal(t, path, fwErr.Path)
}
