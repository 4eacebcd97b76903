package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/streamcore/internal/health"
)

type fakeSweeper struct {
	report *health.SweepReport
	err    error
	last   *health.SweepReport
}

func (f *fakeSweeper) RunSweep(context.Context) (*health.SweepReport, error) { return f.report, f.err }
func (f *fakeSweeper) LastReport() *health.SweepReport { return f.last }

type fakeReports struct {
	data []byte
	key  string
}

func (f fakeReports) LatestReport(context.Context) ([]byte, string, error) { return f.data, f.key, nil }

func newMonitorRouter(s Sweeper, reports ReportArchive) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewMonitorHandler(s, reports)
	r := gin.New()
	r.POST("/sweep", h.Sweep)
	r.GET("/latest", h.LatestReport)
	return r
}

func TestMonitorHandler_Sweep(t *testing.T) {
	r := newMonitorRouter(&fakeSweeper{report: &health.SweepReport{Total: 4, RestartsAttempted: 1}}, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sweep", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got health.SweepReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 4, got.Total)

	r = newMonitorRouter(&fakeSweeper{err: health.ErrSweepRunning}, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sweep", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMonitorHandler_LatestReport(t *testing.T) {
	w := httptest.NewRecorder()
	newMonitorRouter(&fakeSweeper{}, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/latest", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	newMonitorRouter(&fakeSweeper{last: &health.SweepReport{Total: 2}}, fakeReports{}).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/latest", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":2`)

	w = httptest.NewRecorder()
	archived := fakeReports{data: []byte(`{"total":9}`), key: "health-reports/2026/01/01/x.json"}
	newMonitorRouter(&fakeSweeper{last: &health.SweepReport{Total: 2}}, archived).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/latest", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":9`)
	assert.Contains(t, w.Body.String(), `"archive_key":"health-reports/2026/01/01/x.json"`)
}
