package pagespeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pagespeedonline/v5/runPagespeed", r.URL.Path)
		assert.Equal(t, "mobile", r.URL.Query().Get("strategy"))
		assert.Equal(t, "https://marios.example", r.URL.Query().Get("url"))
		assert.Equal(t, "psi-key", r.URL.Query().Get("key"))
		w.Write([]byte(`{"lighthouseResult":{"categories":{"performance":{"score":0.8}}}}`))
	}))
	defer srv.Close()

	c := NewClient("psi-key", WithBaseURL(srv.URL))
	report, err := c.Run(context.Background(), "https://marios.example")
	require.NoError(t, err)

	score := report.PerformanceScore()
	require.NotNil(t, score)
	assert.Equal(t, 0.8, *score)
	assert.NotEmpty(t, report.Raw)
}

func TestRun_NonSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient("psi-key", WithBaseURL(srv.URL))
	_, err := c.Run(context.Background(), "https://marios.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

func TestRun_EmptyURL(t *testing.T) {
	c := NewClient("psi-key")
	_, err := c.Run(context.Background(), "")
	require.Error(t, err)
}

func TestPerformanceScore_MissingCategory(t *testing.T) {
	assert.Nil(t, (&Report{}).PerformanceScore())
	var nilReport *Report
	assert.Nil(t, nilReport.PerformanceScore())
}
