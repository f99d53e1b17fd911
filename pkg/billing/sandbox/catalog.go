// Package sandbox is a simulated billing store. It drives the development
// server, the CLI and the orchestrator tests without a device.
package sandbox

import (
	"fmt"
	"os"
	"strings"

	"github.com/eternisai/purchases-bridge/models"
	"github.com/goccy/go-yaml"
)

// Outcome is what happens when an item is purchased.
type Outcome string

const (
	OutcomeSucceed Outcome = "succeed"
	OutcomeCancel  Outcome = "cancel"
	OutcomeFail    Outcome = "fail"
	OutcomeDefer   Outcome = "defer"
)

// Item is a product offered by the sandbox store.
type Item struct {
	SKU         string  `yaml:"sku"`
	Title       string  `yaml:"title"`
	Description string  `yaml:"description"`
	Price       float64 `yaml:"price"`
	Currency    string  `yaml:"currency"`
	Period      string  `yaml:"period"`
	Region      string  `yaml:"region"`
	Outcome     Outcome `yaml:"outcome"`
	// Owned items are restorable and part of the proof from the start.
	Owned bool `yaml:"owned"`
}

// Catalog configures a sandbox store.
type Catalog struct {
	Platform    models.Platform `yaml:"platform"`
	PackageName string          `yaml:"packageName"`
	// PaymentsDisabled makes CanMakePayments report false.
	PaymentsDisabled bool `yaml:"paymentsDisabled"`
	// Redeliver sends every terminal transaction twice.
	Redeliver bool `yaml:"redeliver"`
	// RestoreError fails restores with a billing error carrying this message.
	RestoreError string `yaml:"restoreError"`
	Items        []Item `yaml:"items"`
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read sandbox catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse sandbox catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// Validate fills defaults and rejects unknown platforms, outcomes and duplicate SKUs.
func (c *Catalog) Validate() error {
	c.Platform = models.Platform(strings.ToUpper(string(c.Platform)))
	if c.Platform == "" {
		c.Platform = models.PlatformGoogle
	}
	if !c.Platform.Valid() {
		return fmt.Errorf("sandbox catalog: unknown platform %q", c.Platform)
	}

	seen := make(map[string]struct{}, len(c.Items))
	for i := range c.Items {
		item := &c.Items[i]
		if item.SKU == "" {
			return fmt.Errorf("sandbox catalog: item %d has no sku", i)
		}
		if _, dup := seen[item.SKU]; dup {
			return fmt.Errorf("sandbox catalog: duplicate sku %q", item.SKU)
		}
		seen[item.SKU] = struct{}{}

		switch item.Outcome {
		case "":
			item.Outcome = OutcomeSucceed
		case OutcomeSucceed, OutcomeCancel, OutcomeFail, OutcomeDefer:
		default:
			return fmt.Errorf("sandbox catalog: sku %q has unknown outcome %q", item.SKU, item.Outcome)
		}
	}
	return nil
}

func (c Catalog) item(sku string) (Item, bool) {
	for _, it := range c.Items {
		if it.SKU == sku {
			return it, true
		}
	}
	return Item{}, false
}
