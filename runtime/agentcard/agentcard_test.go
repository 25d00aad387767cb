package agentcard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/a2a-engine/runtime/wire"
)

func TestAgentCardValidateAcceptsNoSchemes(t *testing.T) {
	card := &AgentCard{Name: "demo"}
	require.NoError(t, card.Validate())
}

func TestAgentCardValidateAcceptsSingleFlavor(t *testing.T) {
	card := &AgentCard{
		Name: "demo",
		SecuritySchemes: map[string]*wire.SecurityScheme{
			"bearer": {HTTP: &wire.HTTPSecurityScheme{Scheme: "bearer", BearerFormat: "JWT"}},
		},
	}
	require.NoError(t, card.Validate())
}

func TestAgentCardValidateRejectsMalformedScheme(t *testing.T) {
	card := &AgentCard{
		Name: "demo",
		SecuritySchemes: map[string]*wire.SecurityScheme{
			"broken": {},
		},
	}
	require.Error(t, card.Validate())
}

func TestLoadFromFileParsesSecuritySchemes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "card.yaml")
	contents := `
name: demo-agent
protocol_version: "1.0"
url: https://agent.example.com
version: "1.0.0"
security_schemes:
  api_key:
    type: apiKey
    name: X-Api-Key
    in: header
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	card, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Len(t, card.SecuritySchemes, 1)
	scheme := card.SecuritySchemes["api_key"]
	require.Equal(t, wire.SecuritySchemeCaseAPIKey, scheme.Case())
	require.Equal(t, "X-Api-Key", scheme.APIKey.Name)
}

func TestLoadFromFileRejectsUnknownSchemeType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "card.yaml")
	contents := `
name: demo-agent
security_schemes:
  bogus:
    type: notAType
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
}
