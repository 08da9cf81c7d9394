package output

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracecov/internal/config"
	"tracecov/internal/models"
)

func sampleReport(services int) *models.Report {
	c := models.Coverage{}
	for i := 0; i < services; i++ {
		c.Record(fmt.Sprintf("service-%02d", i), "/ns.Service/Call")
	}
	at := time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)
	return &models.Report{
		Timestamp: models.NewTimestamp(at),
		TestRunID: "run-9",
		TimeRange: models.TimeRange{Start: models.NewTimestamp(at.Add(-time.Hour)), End: models.NewTimestamp(at)},
		Services:  c,
		Summary: models.Summary{
			TotalServices:             services,
			CoveredServices:           services,
			ServiceCoveragePercentage: 100,
			TotalMethods:              services,
			CoveredMethods:            services,
			MethodCoveragePercentage:  100,
		},
	}
}

func TestSendReport(t *testing.T) {
	var received SlackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewSlackSender(srv.URL).SendReport(context.Background(), sampleReport(2))
	require.NoError(t, err)

	assert.Equal(t, "✅ Coverage: run-9", received.Text)
	require.NotEmpty(t, received.Blocks)
	assert.Equal(t, "header", received.Blocks[0].Type)
	assert.Contains(t, received.Blocks[1].Fields[0].Text, "2/2 (100.00%)")
}

func TestSendReportErrors(t *testing.T) {
	err := NewSlackSender("").SendReport(context.Background(), sampleReport(1))
	assert.ErrorIs(t, err, ErrWebhookNotConfigured)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err = NewSlackSender(srv.URL).SendReport(context.Background(), sampleReport(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestBuildReportMessageTruncatesServices(t *testing.T) {
	msg := BuildReportMessage(sampleReport(maxListedServices + 3))

	var list string
	for _, b := range msg.Blocks {
		if b.Type == "section" && b.Text != nil {
			list = b.Text.Text
		}
	}
	assert.Contains(t, list, "`service-00`")
	assert.NotContains(t, list, "`service-10`")
	assert.Contains(t, list, "_and 3 more_")
}

func TestBuildReportMessageEmpty(t *testing.T) {
	msg := BuildReportMessage(&models.Report{TestRunID: "empty", Services: models.Coverage{}})
	assert.Equal(t, "⚠️ Coverage: empty", msg.Text)
}

func TestNewSlackSenderFromConfig(t *testing.T) {
	assert.Nil(t, NewSlackSenderFromConfig(config.SlackOutputConfig{Enabled: false, WebhookURL: "http://x"}))
	assert.NotNil(t, NewSlackSenderFromConfig(config.SlackOutputConfig{Enabled: true, WebhookURL: "http://x"}))
}
