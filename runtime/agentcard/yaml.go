package agentcard

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"goa.design/a2a-engine/runtime/wire"
)

// yamlDocument mirrors AgentCard's shape with yaml tags; kept separate
// from AgentCard so the wire (json) struct never carries yaml tags it
// doesn't need.
type yamlDocument struct {
	ProtocolVersion    string                     `yaml:"protocol_version"`
	Name               string                     `yaml:"name"`
	Description        string                     `yaml:"description,omitempty"`
	URL                string                     `yaml:"url"`
	Version            string                     `yaml:"version"`
	Capabilities       map[string]any             `yaml:"capabilities,omitempty"`
	DefaultInputModes  []string                   `yaml:"default_input_modes,omitempty"`
	DefaultOutputModes []string                   `yaml:"default_output_modes,omitempty"`
	Skills             []yamlSkill                `yaml:"skills"`
	SecuritySchemes    map[string]yamlSecurityDef `yaml:"security_schemes,omitempty"`
}

type yamlSkill struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
	InputModes  []string `yaml:"input_modes,omitempty"`
	OutputModes []string `yaml:"output_modes,omitempty"`
}

// yamlSecurityDef is the operator-facing config shape for one security
// scheme: a single discriminator field plus the flavor's own attributes,
// since a human-edited YAML file is friendlier with a named Type than with
// presence-based fields. toSecurityScheme projects it onto the
// presence-based wire.SecurityScheme the protocol actually carries.
type yamlSecurityDef struct {
	Type               string            `yaml:"type"`
	Name               string            `yaml:"name,omitempty"`
	In                 string            `yaml:"in,omitempty"`
	Scheme             string            `yaml:"scheme,omitempty"`
	BearerFormat       string            `yaml:"bearer_format,omitempty"`
	AuthorizationURL   string            `yaml:"authorization_url,omitempty"`
	TokenURL           string            `yaml:"token_url,omitempty"`
	RefreshURL         string            `yaml:"refresh_url,omitempty"`
	Scopes             map[string]string `yaml:"scopes,omitempty"`
	OpenIDConnectURL   string            `yaml:"open_id_connect_url,omitempty"`
}

func (d yamlSecurityDef) toSecurityScheme() (*wire.SecurityScheme, error) {
	switch d.Type {
	case "apiKey":
		return &wire.SecurityScheme{APIKey: &wire.APIKeySecurityScheme{Name: d.Name, In: d.In}}, nil
	case "http":
		return &wire.SecurityScheme{HTTP: &wire.HTTPSecurityScheme{Scheme: d.Scheme, BearerFormat: d.BearerFormat}}, nil
	case "oauth2":
		return &wire.SecurityScheme{OAuth2: &wire.OAuth2SecurityScheme{
			AuthorizationURL: d.AuthorizationURL,
			TokenURL:         d.TokenURL,
			RefreshURL:       d.RefreshURL,
			Scopes:           d.Scopes,
		}}, nil
	case "openIdConnect":
		return &wire.SecurityScheme{OpenIDConnect: &wire.OpenIDConnectSecurityScheme{OpenIDConnectURL: d.OpenIDConnectURL}}, nil
	case "mutualTLS":
		return &wire.SecurityScheme{MutualTLS: &wire.MutualTLSSecurityScheme{}}, nil
	default:
		return nil, fmt.Errorf("unknown security scheme type %q", d.Type)
	}
}

// LoadFromFile reads an AgentCard description from a YAML file, the
// default way operators configure GetExtendedAgentCard without a rebuild.
func LoadFromFile(path string) (*AgentCard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agentcard: read %s: %w", path, err)
	}

	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("agentcard: parse %s: %w", path, err)
	}

	card := &AgentCard{
		ProtocolVersion:    doc.ProtocolVersion,
		Name:               doc.Name,
		Description:        doc.Description,
		URL:                doc.URL,
		Version:            doc.Version,
		Capabilities:       doc.Capabilities,
		DefaultInputModes:  doc.DefaultInputModes,
		DefaultOutputModes: doc.DefaultOutputModes,
	}
	for _, s := range doc.Skills {
		card.Skills = append(card.Skills, &Skill{
			ID: s.ID, Name: s.Name, Description: s.Description,
			Tags: s.Tags, InputModes: s.InputModes, OutputModes: s.OutputModes,
		})
	}
	if len(doc.SecuritySchemes) > 0 {
		card.SecuritySchemes = make(map[string]*wire.SecurityScheme, len(doc.SecuritySchemes))
		for name, s := range doc.SecuritySchemes {
			scheme, err := s.toSecurityScheme()
			if err != nil {
				return nil, fmt.Errorf("agentcard: securitySchemes[%s]: %w", name, err)
			}
			card.SecuritySchemes[name] = scheme
		}
	}
	if err := card.Validate(); err != nil {
		return nil, fmt.Errorf("agentcard: %s: %w", path, err)
	}
	return card, nil
}
