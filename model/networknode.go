package model

// Well-known node types used by the scenario catalog. Type is free-form,
// the builder never interprets it.
const (
	NodeTypeHost        = "HOST"
	NodeTypeRouter      = "ROUTER"
	NodeTypeAccessPoint = "AP"
	NodeTypeStation     = "STA"
)

// NetworkNode represents a simulated host. A node is created once and owns
// zero or more interfaces, one per link segment it is attached to.
type NetworkNode struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}
