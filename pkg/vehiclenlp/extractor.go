// Package vehiclenlp guesses the make and model named by informal vehicle
// text ("Chevy Silverado", "Land Rover Defender", "WK Grand Cherokee") using
// a built-in table of makes, nicknames and models. No external dependencies.
package vehiclenlp

import (
	"sort"
	"strings"
	"unicode"
)

// Source tells how a Guess was derived.
type Source string

const (
	// SourceMake means the text starts with a known make or nickname.
	SourceMake Source = "make"
	// SourceModel means the make was inferred from a model unique to it.
	SourceModel Source = "model"
	// SourceTokens means the first word was taken as the make verbatim.
	SourceTokens Source = "tokens"
)

// Guess is a best-effort make/model split.
type Guess struct {
	Make   string
	Model  string
	Source Source
}

// makeAliases maps abbreviations/nicknames to canonical make names.
var makeAliases = map[string]string{
	"chevy":         "Chevrolet",
	"chevrolet":     "Chevrolet",
	"merc":          "Mercedes-Benz",
	"benz":          "Mercedes-Benz",
	"mercedes":      "Mercedes-Benz",
	"mercedes-benz": "Mercedes-Benz",
	"mercedes benz": "Mercedes-Benz",
	"vw":            "Volkswagen",
	"volkswagen":    "Volkswagen",
	"toyota":        "Toyota",
	"honda":         "Honda",
	"ford":          "Ford",
	"bmw":           "BMW",
	"audi":          "Audi",
	"nissan":        "Nissan",
	"hyundai":       "Hyundai",
	"kia":           "Kia",
	"subaru":        "Subaru",
	"mazda":         "Mazda",
	"jeep":          "Jeep",
	"ram":           "Ram",
	"gmc":           "GMC",
	"dodge":         "Dodge",
	"lexus":         "Lexus",
	"acura":         "Acura",
	"porsche":       "Porsche",
	"volvo":         "Volvo",
	"buick":         "Buick",
	"cadillac":      "Cadillac",
	"caddy":         "Cadillac",
	"lincoln":       "Lincoln",
	"infiniti":      "Infiniti",
	"mitsubishi":    "Mitsubishi",
	"chrysler":      "Chrysler",
	"land rover":    "Land Rover",
	"landrover":     "Land Rover",
	"jaguar":        "Jaguar",
	"alfa romeo":    "Alfa Romeo",
	"fiat":          "Fiat",
	"mini":          "Mini",
	"pontiac":       "Pontiac",
	"oldsmobile":    "Oldsmobile",
	"olds":          "Oldsmobile",
	"plymouth":      "Plymouth",
	"mercury":       "Mercury",
	"saturn":        "Saturn",
	"hummer":        "Hummer",
	"isuzu":         "Isuzu",
	"suzuki":        "Suzuki",
	"scion":         "Scion",
	"saab":          "Saab",
	"international": "International",
}

// makeModels maps canonical make to a list of models.
var makeModels = map[string][]string{
	"Toyota":        {"Camry", "Corolla", "RAV4", "Highlander", "Tacoma", "Tundra", "4Runner", "Sienna", "Sequoia", "Land Cruiser", "FJ Cruiser"},
	"Honda":         {"Civic", "Accord", "CR-V", "Pilot", "Odyssey", "Ridgeline", "Element"},
	"Ford":          {"F-150", "F-250", "F-350", "Mustang", "Explorer", "Escape", "Ranger", "Bronco", "Expedition", "Excursion", "Crown Victoria"},
	"Chevrolet":     {"Silverado", "Tahoe", "Suburban", "Camaro", "Colorado", "Blazer", "Trailblazer", "Impala", "Avalanche", "S10"},
	"GMC":           {"Sierra", "Yukon", "Canyon", "Envoy", "Jimmy"},
	"Dodge":         {"Charger", "Challenger", "Durango", "Dakota", "Caravan", "Ram 1500", "Ram 2500", "Nitro"},
	"Ram":           {"1500", "2500", "3500", "ProMaster"},
	"Jeep":          {"Wrangler", "Grand Cherokee", "Cherokee", "Liberty", "Commander", "Compass", "Patriot", "Renegade", "Gladiator", "Wagoneer", "Grand Wagoneer", "Comanche"},
	"Chrysler":      {"Pacifica", "300", "Town & Country", "Aspen"},
	"Nissan":        {"Altima", "Frontier", "Pathfinder", "Titan", "Xterra", "Armada", "Murano"},
	"Land Rover":    {"Range Rover", "Defender", "Discovery", "LR3", "LR4", "Range Rover Sport"},
	"Mitsubishi":    {"Montero", "Outlander", "Pajero"},
	"Mercedes-Benz": {"G-Class", "ML-Class", "GL-Class", "Sprinter"},
	"Hummer":        {"H1", "H2", "H3"},
	"Isuzu":         {"Trooper", "Rodeo", "Amigo"},
	"Suzuki":        {"Samurai", "Sidekick", "Grand Vitara"},
}

type alias struct{ lower, canonical string }

var (
	// aliasesByLength is makeAliases sorted longest first so multi-word
	// makes win over their first word.
	aliasesByLength []alias
	// uniqueModels maps lower-cased models unique to one make.
	uniqueModels []alias
	// modelNames maps lower-cased model to its canonical spelling per make.
	modelNames map[string]map[string]string
)

func init() {
	for a, c := range makeAliases {
		aliasesByLength = append(aliasesByLength, alias{a, c})
	}
	sort.Slice(aliasesByLength, func(i, j int) bool {
		a, b := aliasesByLength[i], aliasesByLength[j]
		if len(a.lower) != len(b.lower) {
			return len(a.lower) > len(b.lower)
		}
		return a.lower < b.lower
	})

	modelNames = make(map[string]map[string]string)
	count := make(map[string]int)
	owner := make(map[string]string)
	for mk, models := range makeModels {
		modelNames[mk] = make(map[string]string)
		for _, m := range models {
			ml := strings.ToLower(m)
			modelNames[mk][ml] = m
			count[ml]++
			owner[ml] = mk
		}
	}
	for ml, n := range count {
		if n == 1 {
			uniqueModels = append(uniqueModels, alias{ml, owner[ml]})
		}
	}
	sort.Slice(uniqueModels, func(i, j int) bool {
		a, b := uniqueModels[i], uniqueModels[j]
		if len(a.lower) != len(b.lower) {
			return len(a.lower) > len(b.lower)
		}
		return a.lower < b.lower
	})
}

// CanonicalMake returns the canonical spelling of a make or nickname.
func CanonicalMake(s string) (string, bool) {
	c, ok := makeAliases[strings.ToLower(strings.Join(strings.Fields(s), " "))]
	return c, ok
}

// Split guesses the make and model in text. It tries, in order, a leading
// make or nickname, a model unique to one make, and finally the first word
// as make with the remainder as model. ok is false when no model remains.
func Split(text string) (Guess, bool) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return Guess{}, false
	}
	lower := strings.ToLower(strings.Join(words, " "))

	for _, a := range aliasesByLength {
		if !hasWordPrefix(lower, a.lower) {
			continue
		}
		n := len(strings.Fields(a.lower))
		if n >= len(words) {
			return Guess{}, false
		}
		model := strings.Join(words[n:], " ")
		return Guess{Make: a.canonical, Model: canonicalModel(a.canonical, model), Source: SourceMake}, true
	}

	for _, m := range uniqueModels {
		if containsWord(lower, m.lower) {
			return Guess{Make: m.canonical, Model: modelNames[m.canonical][m.lower], Source: SourceModel}, true
		}
	}

	if len(words) < 2 {
		return Guess{}, false
	}
	return Guess{Make: words[0], Model: strings.Join(words[1:], " "), Source: SourceTokens}, true
}

// canonicalModel fixes the spelling of a known model; unknown models pass
// through unchanged.
func canonicalModel(mk, model string) string {
	if c, ok := modelNames[mk][strings.ToLower(model)]; ok {
		return c
	}
	return model
}

func hasWordPrefix(s, prefix string) bool {
	if !strings.HasPrefix(s, prefix) {
		return false
	}
	return len(s) == len(prefix) || s[len(prefix)] == ' '
}

// containsWord reports whether word occurs in s on word boundaries.
func containsWord(s, word string) bool {
	for from := 0; ; {
		idx := strings.Index(s[from:], word)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(word)
		if boundary(s, start-1) && boundary(s, end) {
			return true
		}
		from = start + 1
	}
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
