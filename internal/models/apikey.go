package models

// ProtocolType names the downstream wire protocol an API key serves.
type ProtocolType string

const (
	ProtocolOpenAICompat ProtocolType = "openai_compat"
	ProtocolAzureOpenAI  ProtocolType = "azure_openai"
)

// KeyStatus is the lifecycle state of a downstream API key.
type KeyStatus string

const (
	KeyActive   KeyStatus = "active"
	KeyDisabled KeyStatus = "disabled"
	KeyUnknown  KeyStatus = "unknown"
)

// APIKey is a downstream key issued by the gateway.
type APIKey struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	ModelSlug         string       `json:"model_slug,omitempty"`
	ReasoningEffort   string       `json:"reasoning_effort,omitempty"`
	Protocol          ProtocolType `json:"protocol_type"`
	UpstreamBaseURL   string       `json:"upstream_base_url,omitempty"`
	StaticHeadersJSON string       `json:"static_headers_json,omitempty"`
	Status            KeyStatus    `json:"status"`
	LastUsedAt        int64        `json:"last_used_at,omitempty"`
}

// NormalizeStatus maps unrecognized status strings to KeyUnknown.
func (k *APIKey) NormalizeStatus() {
	switch k.Status {
	case KeyActive, KeyDisabled:
	default:
		k.Status = KeyUnknown
	}
}

// ModelOption is a selectable upstream model slug.
type ModelOption struct {
	Slug        string `json:"slug"`
	DisplayName string `json:"display_name,omitempty"`
}

// Label returns the display name, falling back to the slug.
func (m ModelOption) Label() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Slug
}
