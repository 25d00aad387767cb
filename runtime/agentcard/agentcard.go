// Package agentcard provides the extended agent discovery document
// returned by GetExtendedAgentCard, and a YAML-backed default Provider so
// operators can describe an agent's skills and capabilities without a
// rebuild.
package agentcard

import (
	"context"
	"errors"
	"fmt"

	"goa.design/a2a-engine/runtime/wire"
)

// ErrNotConfigured is returned by Provider.ExtendedCard when no card has
// been wired; the dispatcher maps it to EXTENDED_AGENT_CARD_NOT_CONFIGURED.
var ErrNotConfigured = errors.New("agentcard: extended agent card is not configured")

// Provider returns the extended AgentCard for GetExtendedAgentCard.
type Provider interface {
	ExtendedCard(ctx context.Context) (*AgentCard, error)
}

type (
	// AgentCard is the A2A agent discovery document.
	AgentCard struct {
		// ProtocolVersion is the A2A protocol version supported by the agent.
		ProtocolVersion string `json:"protocolVersion"`
		// Name is the human-readable agent name.
		Name string `json:"name"`
		// Description is an optional human-readable description of the agent.
		Description string `json:"description,omitempty"`
		// URL is the base URL where the agent is hosted.
		URL string `json:"url"`
		// Version is the agent implementation version.
		Version string `json:"version"`
		// Capabilities captures optional agent capabilities and extensions.
		Capabilities map[string]any `json:"capabilities,omitempty"`
		// DefaultInputModes lists the default supported input content modes.
		DefaultInputModes []string `json:"defaultInputModes,omitempty"`
		// DefaultOutputModes lists the default supported output content modes.
		DefaultOutputModes []string `json:"defaultOutputModes,omitempty"`
		// Skills enumerates the skills exposed by the agent.
		Skills []*Skill `json:"skills"`
		// SecuritySchemes defines the security schemes supported by the agent.
		// The engine never enforces any of them; they are purely advertised
		// metadata validated at construction time (see Validate).
		SecuritySchemes map[string]*wire.SecurityScheme `json:"securitySchemes,omitempty"`
	}

	// Skill describes one capability advertised in an AgentCard.
	Skill struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Description string   `json:"description,omitempty"`
		Tags        []string `json:"tags,omitempty"`
		InputModes  []string `json:"inputModes,omitempty"`
		OutputModes []string `json:"outputModes,omitempty"`
	}
)

// Validate checks that every entry in SecuritySchemes follows the
// exactly-one-flavor union discipline. A card with no security schemes
// configured is valid; an entry with zero or more than one flavor set is
// not.
func (c *AgentCard) Validate() error {
	for name, s := range c.SecuritySchemes {
		if err := wire.ValidateSecurityScheme(s); err != nil {
			return fmt.Errorf("agentcard: securitySchemes[%s]: %w", name, err)
		}
	}
	return nil
}

// StaticProvider serves a single, fixed AgentCard loaded once at startup.
type StaticProvider struct {
	card *AgentCard
}

// NewStaticProvider wraps card as a Provider. A nil card makes ExtendedCard
// always return ErrNotConfigured.
func NewStaticProvider(card *AgentCard) *StaticProvider {
	return &StaticProvider{card: card}
}

// ExtendedCard implements Provider.
func (p *StaticProvider) ExtendedCard(_ context.Context) (*AgentCard, error) {
	if p.card == nil {
		return nil, ErrNotConfigured
	}
	return p.card, nil
}
