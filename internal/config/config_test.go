package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"FeeSync/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feesync.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	mappings := cfg.Sync.Mappings()
	if len(mappings) != 2 || mappings[0].ProductKey != "Registration Fee" || mappings[1].ProductKey != "Consultation Fee" {
		t.Fatalf("unexpected default mappings %+v", mappings)
	}
	if cfg.Sync.GatePolicy != string(domain.GateSuccessOnly) || cfg.Sync.CustomerPolicy != string(domain.CustomerLookupOnly) {
		t.Fatalf("unexpected default policies %+v", cfg.Sync)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
source:
  baseUrl: https://emr.example.org
  retry:
    maxRetries: 3
billing:
  driver: memory
  priceListId: "7"
sync:
  concepts:
    - name: Registration Fee
      productKey: REG
      onMissingProduct: fail-hard
  customerPolicy: lookup-or-create
  productMissPolicy: skip
  gatePolicy: any-outcome
  workers: 4
scheduler:
  cronExpression: "0 * * * *"
  timezone: Asia/Kolkata
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Source.BaseURL != "https://emr.example.org" || cfg.Source.Retry.MaxRetries != 3 {
		t.Fatalf("source not applied: %+v", cfg.Source)
	}
	if cfg.Source.Timeout != 20*time.Second {
		t.Fatalf("default timeout lost: %v", cfg.Source.Timeout)
	}
	if got := cfg.Source.FeedURL(); got != "https://emr.example.org/openmrs/ws/atomfeed/encounter/recent" {
		t.Fatalf("unexpected feed url %s", got)
	}
	if len(cfg.Sync.Concepts) != 1 || cfg.Sync.Mappings()[0].OnMissingProduct != domain.ProductMissFail {
		t.Fatalf("concepts not applied: %+v", cfg.Sync.Concepts)
	}
	if cfg.Sync.Workers != 4 || cfg.Billing.PriceListID != "7" || cfg.Billing.ShopID != "4" {
		t.Fatalf("unexpected sync/billing %+v %+v", cfg.Sync, cfg.Billing)
	}
	if cfg.Scheduler.Location().String() != "Asia/Kolkata" {
		t.Fatalf("timezone not bound: %s", cfg.Scheduler.Location())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(sourceURLEnv, "https://override.example.org")
	t.Setenv(databaseDSNEnv, "sqlite:///tmp/feesync.db")
	t.Setenv(odooPasswordEnv, "s3cret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.BaseURL != "https://override.example.org" {
		t.Fatalf("source url override ignored: %s", cfg.Source.BaseURL)
	}
	if cfg.Database.DSN != "sqlite:///tmp/feesync.db" || cfg.Billing.Odoo.Password != "s3cret" {
		t.Fatalf("overrides ignored: dsn=%s", cfg.Database.DSN)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"gate policy": `
sync:
  gatePolicy: sometimes
`,
		"customer policy": `
sync:
  customerPolicy: guess
`,
		"concept miss policy": `
sync:
  concepts:
    - name: Registration Fee
      onMissingProduct: ignore
`,
		"duplicate concept": `
sync:
  concepts:
    - name: Registration Fee
    - name: Registration Fee
`,
		"no concepts": `
sync:
  concepts: []
`,
		"billing driver": `
billing:
  driver: sap
`,
		"unknown timezone": `
scheduler:
  timezone: Mars/Olympus_Mons
`,
		"minio without bucket": `
archive:
  minio:
    endpoint: localhost:9000
`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			if err == nil || !strings.Contains(err.Error(), "invalid config") {
				t.Fatalf("expected invalid config error, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}
