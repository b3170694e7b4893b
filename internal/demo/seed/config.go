package seed

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/config"
)

type Config struct {
	Root      string
	Project   string
	Dataset   string
	SchemaURI string
	CorpusURI string

	Users            int
	MaxOrdersPerUser int
	MaxItemsPerOrder int
	Seed             int64
	// Start is the earliest signup time; generated activity spans Days after it.
	Start time.Time
	Days  int
}

func DefaultConfig() Config {
	return Config{
		Root:             "warehouse",
		Project:          "demo",
		Dataset:          "shop",
		SchemaURI:        "s3://querypilot/schema/schema.csv",
		CorpusURI:        "s3://querypilot/corpus/examples.parquet",
		Users:            200,
		MaxOrdersPerUser: 6,
		MaxItemsPerOrder: 4,
		Seed:             42,
		Start:            time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Days:             365,
	}
}

// ConfigFrom takes the warehouse layout and artifact locations from the
// service configuration and the generator knobs from QUERYPILOT_DEMO_*.
func ConfigFrom(svc config.Config, lookup config.LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	cfg.Root = svc.Warehouse.Root
	cfg.Project = firstNonEmpty(svc.Warehouse.Project, cfg.Project)
	cfg.Dataset = firstNonEmpty(svc.Warehouse.DefaultDataset, cfg.Dataset)
	cfg.SchemaURI = firstNonEmpty(svc.Schema.CSVPath, cfg.SchemaURI)
	cfg.CorpusURI = firstNonEmpty(svc.Corpus.Path, cfg.CorpusURI)

	applyErrs := []error{
		applyInt(lookup, "QUERYPILOT_DEMO_USERS", &cfg.Users),
		applyInt(lookup, "QUERYPILOT_DEMO_MAX_ORDERS_PER_USER", &cfg.MaxOrdersPerUser),
		applyInt(lookup, "QUERYPILOT_DEMO_MAX_ITEMS_PER_ORDER", &cfg.MaxItemsPerOrder),
		applyInt64(lookup, "QUERYPILOT_DEMO_SEED", &cfg.Seed),
		applyDate(lookup, "QUERYPILOT_DEMO_START", &cfg.Start),
		applyInt(lookup, "QUERYPILOT_DEMO_DAYS", &cfg.Days),
	}
	for _, err := range applyErrs {
		if err != nil {
			return Config{}, err
		}
	}

	if cfg.Users <= 0 {
		return Config{}, fmt.Errorf("QUERYPILOT_DEMO_USERS must be > 0")
	}
	if cfg.MaxOrdersPerUser <= 0 {
		return Config{}, fmt.Errorf("QUERYPILOT_DEMO_MAX_ORDERS_PER_USER must be > 0")
	}
	if cfg.MaxItemsPerOrder <= 0 {
		return Config{}, fmt.Errorf("QUERYPILOT_DEMO_MAX_ITEMS_PER_ORDER must be > 0")
	}
	if cfg.Days <= 0 {
		return Config{}, fmt.Errorf("QUERYPILOT_DEMO_DAYS must be > 0")
	}
	return cfg, nil
}

func applyInt(lookup config.LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup config.LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyDate(lookup config.LookupFunc, key string, dst *time.Time) error {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	v, err := time.Parse(time.DateOnly, strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v.UTC()
	return nil
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}
