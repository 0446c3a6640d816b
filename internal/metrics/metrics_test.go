package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}

	if m.registry == nil {
		t.Error("Registry is nil")
	}

	// Verify session metrics
	if m.SessionsActive == nil {
		t.Error("SessionsActive is nil")
	}
	if m.SessionsTotal == nil {
		t.Error("SessionsTotal is nil")
	}
	if m.SessionErrorsTotal == nil {
		t.Error("SessionErrorsTotal is nil")
	}

	// Verify transcript metrics
	if m.MessagesTotal == nil {
		t.Error("MessagesTotal is nil")
	}

	// Verify reply metrics
	if m.RepliesGeneratedTotal == nil {
		t.Error("RepliesGeneratedTotal is nil")
	}
	if m.ReplyDuration == nil {
		t.Error("ReplyDuration is nil")
	}

	// Verify snapshot metrics
	if m.SnapshotCapturesTotal == nil {
		t.Error("SnapshotCapturesTotal is nil")
	}

	// Verify scheduler metrics
	if m.ScheduledRunsTotal == nil {
		t.Error("ScheduledRunsTotal is nil")
	}
	if m.ScheduledSkippedTotal == nil {
		t.Error("ScheduledSkippedTotal is nil")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()

	// Record some sample metrics so they appear in output
	m.SessionsTotal.Inc()
	m.MessagesTotal.WithLabelValues("sent").Inc()
	m.RepliesGeneratedTotal.WithLabelValues("ok").Inc()
	m.ReplyDuration.Observe(0.5)
	m.SnapshotCapturesTotal.WithLabelValues("ok").Inc()

	handler := m.Handler()
	if handler == nil {
		t.Fatal("Handler returned nil")
	}

	// Test HTTP endpoint
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()

	// Verify metrics are exposed
	expectedMetrics := []string{
		"sessions_active",
		"sessions_total",
		"session_errors_total",
		"transcript_messages_total",
		"replies_generated_total",
		"reply_generation_duration_seconds",
		"snapshot_captures_total",
		"scheduled_runs_total",
		"scheduled_skipped_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Metrics output missing: %s", metric)
		}
	}
}

func TestMetricsRegistry(t *testing.T) {
	m := NewMetrics()

	registry := m.Registry()
	if registry == nil {
		t.Fatal("Registry returned nil")
	}

	// Record some sample metrics so they appear in gather
	m.SessionsActive.Set(1)
	m.SessionsTotal.Inc()
	m.SessionErrorsTotal.Inc()
	m.MessagesTotal.WithLabelValues("received").Inc()
	m.RepliesGeneratedTotal.WithLabelValues("fallback").Inc()
	m.ReplyDuration.Observe(1.0)
	m.SnapshotCapturesTotal.WithLabelValues("error").Inc()
	m.ScheduledRunsTotal.Inc()
	m.ScheduledSkippedTotal.Inc()

	// Verify metrics are registered
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	if len(metricFamilies) == 0 {
		t.Error("No metrics registered")
	}

	metricNames := make(map[string]bool)
	for _, mf := range metricFamilies {
		metricNames[*mf.Name] = true
	}

	expectedCount := 9 // Total number of metrics
	if len(metricNames) != expectedCount {
		t.Errorf("Expected %d metrics, got %d", expectedCount, len(metricNames))
	}
}

func TestSessionMetrics(t *testing.T) {
	m := NewMetrics()

	t.Run("set active sessions", func(t *testing.T) {
		m.SessionsActive.Set(5)

		metricFamilies, _ := m.registry.Gather()
		found := false
		for _, mf := range metricFamilies {
			if *mf.Name == "sessions_active" {
				found = true
				if len(mf.Metric) > 0 && *mf.Metric[0].Gauge.Value != 5 {
					t.Errorf("Expected value 5, got %f", *mf.Metric[0].Gauge.Value)
				}
			}
		}
		if !found {
			t.Error("sessions_active metric not found")
		}
	})

	t.Run("increment total sessions", func(t *testing.T) {
		m.SessionsTotal.Inc()

		metricFamilies, _ := m.registry.Gather()
		found := false
		for _, mf := range metricFamilies {
			if *mf.Name == "sessions_total" {
				found = true
			}
		}
		if !found {
			t.Error("sessions_total metric not found")
		}
	})

	t.Run("increment session errors", func(t *testing.T) {
		m.SessionErrorsTotal.Inc()

		metricFamilies, _ := m.registry.Gather()
		found := false
		for _, mf := range metricFamilies {
			if *mf.Name == "session_errors_total" {
				found = true
			}
		}
		if !found {
			t.Error("session_errors_total metric not found")
		}
	})
}

func TestReplyMetrics(t *testing.T) {
	m := NewMetrics()

	t.Run("increment replies by status", func(t *testing.T) {
		m.RepliesGeneratedTotal.WithLabelValues("ok").Inc()
		m.RepliesGeneratedTotal.WithLabelValues("fallback").Inc()

		metricFamilies, _ := m.registry.Gather()
		found := false
		for _, mf := range metricFamilies {
			if *mf.Name == "replies_generated_total" {
				found = true
				if len(mf.Metric) != 2 {
					t.Errorf("Expected 2 label values, got %d", len(mf.Metric))
				}
			}
		}
		if !found {
			t.Error("replies_generated_total metric not found")
		}
	})

	t.Run("record reply duration", func(t *testing.T) {
		m.ReplyDuration.Observe(1.5)

		metricFamilies, _ := m.registry.Gather()
		found := false
		for _, mf := range metricFamilies {
			if *mf.Name == "reply_generation_duration_seconds" {
				found = true
			}
		}
		if !found {
			t.Error("reply_generation_duration_seconds metric not found")
		}
	})
}

func TestDefaultIsSingleton(t *testing.T) {
	m1 := Default()
	m2 := Default()

	if m1 != m2 {
		t.Error("Default returned different instances")
	}
}

func TestMetricsIsolation(t *testing.T) {
	// Create two separate metrics instances
	m1 := NewMetrics()
	m2 := NewMetrics()

	// Increment metrics in m1
	m1.SessionsTotal.Inc()
	m1.SessionsTotal.Inc()

	// Increment metrics in m2
	m2.SessionsTotal.Inc()

	// Verify m1 has 2
	metricFamilies1, _ := m1.registry.Gather()
	for _, mf := range metricFamilies1 {
		if *mf.Name == "sessions_total" {
			if len(mf.Metric) > 0 && *mf.Metric[0].Counter.Value != 2 {
				t.Errorf("m1: Expected value 2, got %f", *mf.Metric[0].Counter.Value)
			}
		}
	}

	// Verify m2 has 1
	metricFamilies2, _ := m2.registry.Gather()
	for _, mf := range metricFamilies2 {
		if *mf.Name == "sessions_total" {
			if len(mf.Metric) > 0 && *mf.Metric[0].Counter.Value != 1 {
				t.Errorf("m2: Expected value 1, got %f", *mf.Metric[0].Counter.Value)
			}
		}
	}
}
