package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"FeeSync/internal/config"
	"FeeSync/internal/domain"
)

func newTestEncounterClient(t *testing.T, handler http.HandlerFunc) (*EncounterClient, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewEncounterClient(NewTransport(config.SourceConfig{}, server.Client(), nil), nil)
	if err != nil {
		t.Fatalf("NewEncounterClient: %v", err)
	}
	return client, server
}

func TestEncounterClientFetchDetail(t *testing.T) {
	t.Parallel()

	client, server := newTestEncounterClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
		  "patientId": "GAN200001",
		  "observations": [
		    {"conceptNameToDisplay": "Registration Fee", "value": 50},
		    {"conceptNameToDisplay": "Consultation Fee", "value": "120.5"},
		    {"conceptNameToDisplay": "Lab Fee", "value": null},
		    {"conceptNameToDisplay": "Diagnosis", "value": {"name": "Fever"}},
		    {"conceptNameToDisplay": "Registration Fee", "value": 75}
		  ]
		}`))
	})

	detail, err := client.FetchDetail(context.Background(), domain.FeedEntry{ContentURL: server.URL + "/enc/e-1", EncounterID: "e-1"})
	if err != nil {
		t.Fatalf("FetchDetail error: %v", err)
	}

	if detail.EncounterID != "e-1" || detail.PatientRef != "GAN200001" {
		t.Fatalf("unexpected detail header: %+v", detail)
	}
	if len(detail.Observations) != 5 {
		t.Fatalf("expected 5 observations, got %d", len(detail.Observations))
	}

	if v := detail.Observations[0].Value; v == nil || *v != 50 {
		t.Fatalf("numeric value not decoded: %+v", detail.Observations[0])
	}
	if v := detail.Observations[1].Value; v == nil || *v != 120.5 {
		t.Fatalf("numeric string not decoded: %+v", detail.Observations[1])
	}
	if detail.Observations[2].Value != nil {
		t.Fatalf("null value should stay nil")
	}
	if detail.Observations[3].Value != nil {
		t.Fatalf("object value should stay nil")
	}

	obs, ok := detail.FindObservation("Registration Fee")
	if !ok || *obs.Value != 50 {
		t.Fatalf("first match should win, got %+v", obs)
	}
}

func TestEncounterClientMissingObservations(t *testing.T) {
	t.Parallel()

	client, server := newTestEncounterClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"patientId": "GAN200002"}`))
	})

	detail, err := client.FetchDetail(context.Background(), domain.FeedEntry{ContentURL: server.URL, EncounterID: "e-2"})
	if err != nil {
		t.Fatalf("FetchDetail error: %v", err)
	}
	if len(detail.Observations) != 0 {
		t.Fatalf("expected no observations, got %d", len(detail.Observations))
	}
}

func TestEncounterClientMalformed(t *testing.T) {
	t.Parallel()

	bodies := map[string]string{
		"not json":           `<html></html>`,
		"missing patient":    `{"observations": []}`,
		"observations shape": `{"patientId": "p", "observations": "none"}`,
	}

	for name, body := range bodies {
		body := body
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			client, server := newTestEncounterClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})

			_, err := client.FetchDetail(context.Background(), domain.FeedEntry{ContentURL: server.URL, EncounterID: "e"})
			if !errors.Is(err, domain.ErrEncounterMalformed) {
				t.Fatalf("expected ErrEncounterMalformed, got %v", err)
			}
		})
	}
}

func TestEncounterClientUnreachable(t *testing.T) {
	t.Parallel()

	client, server := newTestEncounterClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := client.FetchDetail(context.Background(), domain.FeedEntry{ContentURL: server.URL, EncounterID: "e"})
	if !errors.Is(err, domain.ErrEncounterUnreachable) {
		t.Fatalf("expected ErrEncounterUnreachable, got %v", err)
	}
	if !domain.IsEncounterScoped(err) {
		t.Fatalf("unreachable encounter must be encounter-scoped")
	}
}
