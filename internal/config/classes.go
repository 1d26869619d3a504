package config

// Class names used by the published parasite and snail models, indexed the
// same way as the sorted class directories.
var (
	ParasiteClasses = []string{
		"Amphistome",
		"Bovis",
		"Echino",
		"Gymno",
		"HumanSchisto",
		"Metacerc",
		"Parapleurolophocercous",
		"Parthenitae",
		"Type1",
		"Type2",
		"Xiphidiocercariae",
	}

	SnailClasses = []string{
		"Biomphalaria",
		"Bulinus",
		"Lymnaea",
		"Melanoides",
	}

	Presets = map[string][]string{
		"parasite": ParasiteClasses,
		"snail":    SnailClasses,
	}
)
