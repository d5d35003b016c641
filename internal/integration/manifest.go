package integration

// ManifestationAction is one of the fixed recipient manifestation events a
// taxpayer can register against a document addressed to them.
type ManifestationAction string

const (
	ManifestCiencia         ManifestationAction = "ciencia"
	ManifestConfirmacao     ManifestationAction = "confirmacao"
	ManifestDesconhecimento ManifestationAction = "desconhecimento"
	ManifestNaoRealizada    ManifestationAction = "nao_realizada"
)

// eventCodes maps actions to the authority's event codes.
var eventCodes = map[ManifestationAction]string{
	ManifestCiencia:         "210210",
	ManifestConfirmacao:     "210200",
	ManifestDesconhecimento: "210220",
	ManifestNaoRealizada:    "210240",
}

// EventCode returns the authority event code for the action.
func (a ManifestationAction) EventCode() (string, bool) {
	code, ok := eventCodes[a]
	return code, ok
}
