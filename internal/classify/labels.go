// SPDX-License-Identifier: MIT
package classify

// Label is a diagnostic code returned by the classification service.
type Label string

const (
	AorticStenosis      Label = "AS"
	MitralRegurgitation Label = "MR"
	MitralStenosis      Label = "MS"
	MitralValveProlapse Label = "MVP"
	Normal              Label = "N"
)

// Severity groups labels for display.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// LabelInfo describes one diagnostic code.
type LabelInfo struct {
	Label       Label
	Name        string
	Description string
	Severity    Severity
}

var catalog = []LabelInfo{
	{AorticStenosis, "Aortic Stenosis", "Narrowing of the aortic valve opening that restricts outflow from the left ventricle.", SeverityCritical},
	{MitralRegurgitation, "Mitral Regurgitation", "The mitral valve does not close fully and blood leaks back into the left atrium.", SeverityWarning},
	{MitralStenosis, "Mitral Stenosis", "Narrowing of the mitral valve that limits filling of the left ventricle.", SeverityCritical},
	{MitralValveProlapse, "Mitral Valve Prolapse", "Mitral valve leaflets bulge into the left atrium during contraction.", SeverityWarning},
	{Normal, "Normal", "No murmur pattern was recognized in the recording.", SeverityNone},
}

// Labels returns the catalog in service order.
func Labels() []LabelInfo {
	out := make([]LabelInfo, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the catalog entry for code.
func Lookup(code string) (LabelInfo, bool) {
	for _, info := range catalog {
		if string(info.Label) == code {
			return info, true
		}
	}
	return LabelInfo{}, false
}
