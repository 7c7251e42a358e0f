// Package schema holds the declarative table catalogue for construction
// projects and turns it into a core.Registry.
package schema

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/sitebook/internal/core"
)

//go:embed construction.yaml
var constructionYAML []byte

// Standard field names added to every table that does not declare them.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

type document struct {
	Enums  map[string][]string `yaml:"enums"`
	Tables []tableDoc          `yaml:"tables"`
}

type tableDoc struct {
	Name     string      `yaml:"name"`
	Display  string      `yaml:"display"`
	Rank     int         `yaml:"rank"`
	Cleanup  bool        `yaml:"cleanup"`
	Identity identityDoc `yaml:"identity"`
	Fields   []fieldDoc  `yaml:"fields"`
}

type identityDoc struct {
	Policy string   `yaml:"policy"`
	Fields []string `yaml:"fields"`
}

type fieldDoc struct {
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"`
	Values     []string `yaml:"values"`
	Required   bool     `yaml:"required"`
	Unique     bool     `yaml:"unique"`
	Auto       bool     `yaml:"auto"`
	PrimaryKey bool     `yaml:"primary_key"`
	MaxLength  int      `yaml:"max_length"`
	References string   `yaml:"references"`
	Ensure     bool     `yaml:"ensure"`
}

// Parse decodes a YAML catalogue into table schemas.
func Parse(data []byte) ([]core.TableSchema, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if len(doc.Tables) == 0 {
		return nil, fmt.Errorf("parse schema: no tables defined")
	}

	tables := make([]core.TableSchema, 0, len(doc.Tables))
	for _, td := range doc.Tables {
		t, err := td.toSchema()
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (td tableDoc) toSchema() (core.TableSchema, error) {
	t := core.TableSchema{
		Name:        td.Name,
		DisplayName: td.Display,
		Rank:        td.Rank,
		Cleanup:     td.Cleanup,
		Identity: core.IdentitySpec{
			Policy: core.PolicyKind(td.Identity.Policy),
			Fields: td.Identity.Fields,
		},
	}

	declared := make(map[string]bool, len(td.Fields))
	for _, fd := range td.Fields {
		declared[fd.Name] = true
	}
	if !declared[FieldID] {
		t.Fields = append(t.Fields, core.FieldSpec{Name: FieldID, Type: core.TypeText, PrimaryKey: true})
	}

	for _, fd := range td.Fields {
		typ, err := core.ParseSemanticType(fd.Type)
		if err != nil {
			return core.TableSchema{}, fmt.Errorf("table %q field %q: %w", td.Name, fd.Name, err)
		}
		t.Fields = append(t.Fields, core.FieldSpec{
			Name:        fd.Name,
			Type:        typ,
			EnumValues:  fd.Values,
			Required:    fd.Required,
			Unique:      fd.Unique,
			AutoManaged: fd.Auto,
			PrimaryKey:  fd.PrimaryKey,
			MaxLength:   fd.MaxLength,
		})
		if fd.References != "" {
			t.Relationships = append(t.Relationships, core.RelationshipSpec{
				Field:    fd.Name,
				Table:    fd.References,
				Required: fd.Required,
				Ensure:   fd.Ensure,
			})
		}
	}

	for _, name := range []string{FieldCreatedAt, FieldUpdatedAt} {
		if !declared[name] {
			t.Fields = append(t.Fields, core.FieldSpec{Name: name, Type: core.TypeTimestamp, AutoManaged: true})
		}
	}
	return t, nil
}

// Load builds the registry from the embedded construction catalogue.
func Load() (*core.Registry, error) {
	tables, err := Parse(constructionYAML)
	if err != nil {
		return nil, err
	}
	return core.NewRegistry(tables)
}

// MustLoad is Load for program start-up and tests; it panics on error.
func MustLoad() *core.Registry {
	reg, err := Load()
	if err != nil {
		panic(err)
	}
	return reg
}
