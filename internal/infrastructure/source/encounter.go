package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"FeeSync/internal/domain"
	"FeeSync/internal/ports"
)

const (
	encounterMediaType = "application/json"
	encounterSchemaURL = "https://feesync.local/schemas/encounter.json"
)

// encounterSchema is the minimum shape the engine relies on.
const encounterSchema = `{
  "type": "object",
  "required": ["patientId"],
  "properties": {
    "patientId": {"type": "string", "minLength": 1},
    "observations": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "conceptNameToDisplay": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadEncounterSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(encounterSchema))
		if err != nil {
			schemaErr = fmt.Errorf("parse encounter schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(encounterSchemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add encounter schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(encounterSchemaURL)
	})
	return compiledSchema, schemaErr
}

type encounterPayload struct {
	PatientID    string               `json:"patientId"`
	Observations []observationPayload `json:"observations"`
}

type observationPayload struct {
	Concept string          `json:"conceptNameToDisplay"`
	Value   json.RawMessage `json:"value"`
}

// EncounterClient retrieves encounter detail documents.
type EncounterClient struct {
	transport *Transport
	schema    *jsonschema.Schema
	logger    *slog.Logger
}

var _ ports.EncounterSource = (*EncounterClient)(nil)

// NewEncounterClient compiles the detail schema once and wires the transport.
func NewEncounterClient(transport *Transport, logger *slog.Logger) (*EncounterClient, error) {
	schema, err := loadEncounterSchema()
	if err != nil {
		return nil, err
	}
	return &EncounterClient{transport: transport, schema: schema, logger: logger}, nil
}

// FetchDetail reads and decodes the detail document behind entry.
func (c *EncounterClient) FetchDetail(ctx context.Context, entry domain.FeedEntry) (domain.EncounterDetail, error) {
	body, err := c.transport.Get(ctx, entry.ContentURL, encounterMediaType)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return domain.EncounterDetail{}, err
		}
		return domain.EncounterDetail{}, fmt.Errorf("%w: %w", domain.ErrEncounterUnreachable, err)
	}

	detail, err := c.decode(entry.EncounterID, body)
	if err != nil {
		return domain.EncounterDetail{}, err
	}

	if c.logger != nil {
		c.logger.Debug("encounter fetched", "encounter_id", entry.EncounterID, "observations", len(detail.Observations))
	}
	return detail, nil
}

func (c *EncounterClient) decode(encounterID string, body []byte) (domain.EncounterDetail, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return domain.EncounterDetail{}, fmt.Errorf("%w: %w", domain.ErrEncounterMalformed, err)
	}
	if err := c.schema.Validate(inst); err != nil {
		return domain.EncounterDetail{}, fmt.Errorf("%w: %w", domain.ErrEncounterMalformed, err)
	}

	var payload encounterPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.EncounterDetail{}, fmt.Errorf("%w: %w", domain.ErrEncounterMalformed, err)
	}

	detail := domain.EncounterDetail{
		EncounterID:  encounterID,
		PatientRef:   payload.PatientID,
		Observations: make([]domain.Observation, 0, len(payload.Observations)),
	}
	for _, obs := range payload.Observations {
		value, raw := parseScalar(obs.Value)
		detail.Observations = append(detail.Observations, domain.Observation{
			Concept: obs.Concept,
			Value:   value,
			Raw:     raw,
		})
	}
	return detail, nil
}

// parseScalar accepts JSON numbers and numeric strings; anything else yields nil.
func parseScalar(raw json.RawMessage) (*float64, string) {
	token := strings.TrimSpace(string(raw))
	if token == "" || token == "null" {
		return nil, token
	}

	if strings.HasPrefix(token, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, token
		}
		s = strings.TrimSpace(s)
		return finite(s)
	}
	return finite(token)
}

func finite(token string) (*float64, string) {
	v, err := strconv.ParseFloat(token, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, token
	}
	return &v, token
}
