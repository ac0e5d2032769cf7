package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mmdatafocus/recipe_integrity/models"
	"github.com/mmdatafocus/recipe_integrity/utils"
)

// Definitions is the declarative part of the deployment: store clusters and automation rules.
type Definitions struct {
	Clusters []models.StoreCluster   `yaml:"clusters" validate:"dive"`
	Rules    []models.AutomationRule `yaml:"rules" validate:"dive"`
}

// LoadDefinitions reads a YAML definitions file. An empty path yields empty definitions.
func LoadDefinitions(path string) (*Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return &Definitions{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions %q: %w", path, err)
	}
	return ParseDefinitions(data)
}

func ParseDefinitions(data []byte) (*Definitions, error) {
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidDefinition, err)
	}
	if err := defs.Validate(); err != nil {
		return nil, err
	}
	return &defs, nil
}

var definitionValidator = validator.New()

func (d *Definitions) Validate() error {
	if err := definitionValidator.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidDefinition, utils.ProcessValidationErrors(err))
	}

	clusterIds := make(map[string]struct{}, len(d.Clusters))
	for _, c := range d.Clusters {
		if err := ValidateCluster(c); err != nil {
			return err
		}
		if _, dup := clusterIds[c.ID]; dup {
			return fmt.Errorf("%w: duplicate cluster id %q", models.ErrInvalidDefinition, c.ID)
		}
		clusterIds[c.ID] = struct{}{}
	}

	ruleIds := make(map[string]struct{}, len(d.Rules))
	for _, r := range d.Rules {
		if err := ValidateRule(r); err != nil {
			return err
		}
		if _, dup := ruleIds[r.ID]; dup {
			return fmt.Errorf("%w: duplicate rule id %q", models.ErrInvalidDefinition, r.ID)
		}
		ruleIds[r.ID] = struct{}{}
	}
	return nil
}

// ValidateCluster checks one cluster. An empty strategy is allowed; an unknown one is not.
func ValidateCluster(c models.StoreCluster) error {
	if err := definitionValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: cluster %q: %v", models.ErrInvalidDefinition, c.ID, utils.ProcessValidationErrors(err))
	}
	if c.Strategy != "" && !c.Strategy.Known() {
		return fmt.Errorf("%w: cluster %q: unknown strategy %q", models.ErrInvalidDefinition, c.ID, c.Strategy)
	}
	return nil
}

func ValidateRule(r models.AutomationRule) error {
	if err := definitionValidator.Struct(r); err != nil {
		return fmt.Errorf("%w: rule %q: %v", models.ErrInvalidDefinition, r.ID, utils.ProcessValidationErrors(err))
	}
	if r.Trigger.Type == models.TriggerTypeSchedule && r.Trigger.IntervalMinutes <= 0 {
		return fmt.Errorf("%w: rule %q: schedule trigger needs intervalMinutes > 0", models.ErrInvalidDefinition, r.ID)
	}
	return nil
}
