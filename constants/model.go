package constants

const (
	// ModelLayout is the service's id for the layout model.
	ModelLayout = "prebuilt-layout"

	DefaultAPIVersion = "2024-11-30"

	// CognitiveServicesScope is the token scope for managed identity access.
	CognitiveServicesScope = "https://cognitiveservices.azure.com/.default"
)

// DefaultFeatures are the optional analysis features requested with every job.
var DefaultFeatures = []string{"formulas"}
