package template

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Templates []templateDoc `yaml:"templates"`
}

type templateDoc struct {
	ID        string        `yaml:"id"`
	Name      string        `yaml:"name"`
	Group     string        `yaml:"group"`
	Offset    offsetDoc     `yaml:"offset"`
	Targeting targetingDoc  `yaml:"targeting"`
	Channels  []string      `yaml:"channels"`
	Urgent    bool          `yaml:"urgent"`
	PinTime   bool          `yaml:"pin_time"`
	Incentive *incentiveDoc `yaml:"incentive"`
	Subject   string        `yaml:"subject"`
	Content   string        `yaml:"content"`
}

type offsetDoc struct {
	Days    int `yaml:"days"`
	Hours   int `yaml:"hours"`
	Minutes int `yaml:"minutes"`
}

type targetingDoc struct {
	States            []string `yaml:"states"`
	MinScore          int      `yaml:"min_score"`
	MaxScore          *int     `yaml:"max_score"`
	RequiresPriorOpen bool     `yaml:"requires_prior_open"`
}

type incentiveDoc struct {
	Kind        string  `yaml:"kind"`
	Percent     float64 `yaml:"percent"`
	Description string  `yaml:"description"`
}

// ParseCatalog decodes a YAML catalog and validates every template.
// Unknown keys are rejected.
func ParseCatalog(r io.Reader) ([]domain.Template, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: template catalog: %v", domain.ErrValidation, err)
	}

	templates := make([]domain.Template, 0, len(file.Templates))
	for i, doc := range file.Templates {
		tpl, err := doc.toDomain()
		if err != nil {
			return nil, fmt.Errorf("template catalog entry %d: %w", i, err)
		}
		templates = append(templates, tpl)
	}
	return templates, nil
}

// DefaultTemplates returns the built-in catalog.
func DefaultTemplates() ([]domain.Template, error) {
	return ParseCatalog(bytes.NewReader(defaultCatalog))
}

// LoadCatalogFile reads a catalog from disk. An empty path yields the built-in catalog.
func LoadCatalogFile(path string) ([]domain.Template, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTemplates()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open template catalog: %v", domain.ErrConfiguration, err)
	}
	defer f.Close()

	return ParseCatalog(f)
}

func (d templateDoc) toDomain() (domain.Template, error) {
	tpl := domain.Template{
		ID:      strings.TrimSpace(d.ID),
		Name:    d.Name,
		Group:   domain.TemplateGroup(strings.ToLower(strings.TrimSpace(d.Group))),
		Offset:  domain.Offset(d.Offset),
		Urgent:  d.Urgent,
		PinTime: d.PinTime,
		Subject: d.Subject,
		Content: strings.TrimRight(d.Content, "\n"),
		Targeting: domain.Targeting{
			MinScore:          d.Targeting.MinScore,
			MaxScore:          d.Targeting.MaxScore,
			RequiresPriorOpen: d.Targeting.RequiresPriorOpen,
		},
	}

	for _, raw := range d.Targeting.States {
		st, err := domain.ParseAttendanceStateFromString(raw)
		if err != nil {
			return domain.Template{}, err
		}
		tpl.Targeting.States = append(tpl.Targeting.States, st)
	}
	for _, raw := range d.Channels {
		ch, err := domain.ParseChannelFromString(raw)
		if err != nil {
			return domain.Template{}, err
		}
		tpl.Channels = append(tpl.Channels, ch)
	}
	if d.Incentive != nil {
		tpl.Incentive = &domain.Incentive{
			Kind:        domain.IncentiveKind(strings.ToUpper(strings.TrimSpace(d.Incentive.Kind))),
			Percent:     d.Incentive.Percent,
			Description: d.Incentive.Description,
		}
	}

	if err := tpl.Validate(); err != nil {
		return domain.Template{}, err
	}
	return tpl, nil
}
