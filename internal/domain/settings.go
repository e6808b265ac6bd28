package domain

// Settings regroupe la politique d'acquisition modifiable à chaud.
// Elle est relue à chaque tentative.
type Settings struct {
	// Racine de sortie des épisodes.
	OutputDir string `json:"outputDir"`

	// Taille max d'une plage d'épisodes (download) et du rattrapage (follow).
	MaxEpisodes int `json:"maxEpisodes"`

	// Retries sur échec transitoire du resolver.
	MaxRetries        int `json:"maxRetries"`
	RetryDelaySeconds int `json:"retryDelaySeconds"`

	// Serveur de streaming à sélectionner sur la page source (ex: "kiwi").
	PreferredServer string `json:"preferredServer"`

	// Politique de contenu.
	BanNSFW     bool     `json:"banNsfw"`
	BlockedTags []string `json:"blockedTags"`
	AllowTitles []string `json:"allowTitles"`

	// FollowBackfill: un follow télécharge aussi les épisodes déjà sortis.
	FollowBackfill bool `json:"followBackfill"`
}

func DefaultSettings() Settings {
	return Settings{
		OutputDir:         "output",
		MaxEpisodes:       25,
		MaxRetries:        3,
		RetryDelaySeconds: 5,
		PreferredServer:   "kiwi",
		BanNSFW:           true,
		BlockedTags:       []string{"ECCHI", "HENTAI"},
		AllowTitles: []string{
			"nogamenolife",
			"konosuba",
			"mushokutensei",
			"killlakill",
			"mydress-updarling",
			"weneverlearn",
		},
		FollowBackfill: true,
	}
}
