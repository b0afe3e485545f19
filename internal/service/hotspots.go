package service

import "strings"

// hotspotKey identifies a recurrently observed oncogenic variant by
// gene and protein-level change.
type hotspotKey struct {
	Gene        string
	HGVSProtein string
}

// hotspots is the fixed table of variants for which domain knowledge
// justifies relaxed confidence gating. Extend the table, not the
// aggregation logic.
var hotspots = map[hotspotKey]struct{}{
	{"BRAF", "V600E"}: {},
	{"KRAS", "G12D"}:  {},
	{"KRAS", "G12V"}:  {},
	{"KRAS", "G12C"}:  {},
	{"NRAS", "Q61K"}:  {},
	{"NRAS", "Q61R"}:  {},
}

// isHotspot reports whether the (gene, protein-change) pair is a known
// hotspot. Protein changes are matched with or without the "p." prefix.
func isHotspot(gene, hgvsProtein string) bool {
	p := strings.TrimPrefix(strings.TrimSpace(hgvsProtein), "p.")
	_, ok := hotspots[hotspotKey{strings.ToUpper(gene), strings.ToUpper(p)}]
	return ok
}

// rasPathwayGenes are the driver genes weighted fully into the RAS
// pathway composite.
var rasPathwayGenes = map[string]struct{}{
	"KRAS": {},
	"NRAS": {},
	"BRAF": {},
}

func isRASDriver(gene string) bool {
	_, ok := rasPathwayGenes[strings.ToUpper(gene)]
	return ok
}
