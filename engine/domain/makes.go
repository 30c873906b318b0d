package domain

// SupportedMakes maps commercial-vehicle make names to their known models.
// Latin spellings are canonical; scrapers normalise Cyrillic brand names
// (КАМАЗ, МАЗ, ГАЗ) before records reach the engine.
var SupportedMakes = map[string][]string{
	"KAMAZ":         {"5490", "54901", "65115", "65116", "43118", "65207", "6520", "Kompas"},
	"MAZ":           {"5440", "6430", "6501", "5340", "4371", "6312"},
	"GAZ":           {"GAZelle Next", "GAZelle Business", "GAZon Next", "Sadko Next", "Valdai Next"},
	"Ural":          {"Next", "4320", "6370"},
	"Hyundai":       {"HD35", "HD78", "HD120", "Mighty", "Porter", "Xcient"},
	"Isuzu":         {"NMR85", "NPR75", "NQR90", "Elf", "Forward", "Giga"},
	"Volvo":         {"FH", "FH16", "FM", "FMX", "FL", "FE"},
	"Scania":        {"R-series", "S-series", "G-series", "P-series", "XT"},
	"MAN":           {"TGX", "TGS", "TGM", "TGL"},
	"Mercedes-Benz": {"Actros", "Arocs", "Atego", "Axor", "Sprinter"},
	"DAF":           {"XF", "CF", "LF", "XG"},
	"Iveco":         {"Daily", "Eurocargo", "Stralis", "S-Way", "Trakker"},
	"Renault":       {"T", "K", "C", "D", "Master"},
	"Ford":          {"F-MAX", "Cargo", "Transit"},
	"Shacman":       {"X3000", "F3000", "X5000"},
	"Sitrak":        {"C7H", "T7H"},
	"FAW":           {"J6", "J7", "Tiger V"},
	"HOWO":          {"A7", "T5G", "TX"},
}

// Categories is the fixed inventory taxonomy the dashboard reports on.
var Categories = []string{
	"trucks", "vans", "buses", "tractors", "construction", "agricultural", "trailers",
}

// ValidCategories is the set form of Categories.
var ValidCategories = func() map[string]bool {
	m := make(map[string]bool, len(Categories))
	for _, c := range Categories {
		m[c] = true
	}
	return m
}()

// MinModelYear is the earliest model year we accept.
const MinModelYear = 1990

// MaxModelYear is the latest model year we accept (current + 1 for next-year models).
const MaxModelYear = 2027
