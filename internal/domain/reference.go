package domain

import "fmt"

// Reference désigne un asset voulu: (série, épisode, variante).
// Valeur immuable transmise Resolver -> Worker -> Catalog.
type Reference struct {
	SeriesID string
	Episode  int
	Variant  Variant
}

func (r Reference) Key() SeriesKey {
	return SeriesKey{SourceID: r.SeriesID, Variant: r.Variant}
}

func (r Reference) String() string {
	return fmt.Sprintf("%s/%s#%d", r.SeriesID, r.Variant, r.Episode)
}

// EpisodeRange est une plage inclusive [From, To].
type EpisodeRange struct {
	From int
	To   int
}

func (r EpisodeRange) Len() int {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}
