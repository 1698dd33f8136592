package metrics

/*
Labels and so on for metrics used in the datadirsync agent.
*/

const (
	LabelSuccess    = "success"
	LabelNamespace  = "namespace"
	LabelDeployment = "deployment"
	LabelBackend    = "backend"
)
