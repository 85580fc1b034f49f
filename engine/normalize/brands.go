package normalize

import (
	"regexp"
	"sort"
	"strings"
)

// brandAliases maps lower-cased brand spellings to canonical names.
var brandAliases = map[string]string{
	"chevy":         "Chevrolet",
	"chevrolet":     "Chevrolet",
	"merc":          "Mercedes-Benz",
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
	"dodge":         "Dodge",
	"lexus":         "Lexus",
	"tesla":         "Tesla",
	"porsche":       "Porsche",
	"volvo":         "Volvo",
	"mitsubishi":    "Mitsubishi",
	"chrysler":      "Chrysler",
	"land rover":    "Land Rover",
	"jaguar":        "Jaguar",
	"alfa romeo":    "Alfa Romeo",
	"fiat":          "Fiat",
	"mini":          "Mini",
	"chery":         "Chery",
	"mg":            "MG",
	"great wall":    "Great Wall",
	"haval":         "Haval",
	"jac":           "JAC",
	"changan":       "Changan",
	"geely":         "Geely",
	"byd":           "BYD",
	"maxus":         "Maxus",
	"peugeot":       "Peugeot",
	"renault":       "Renault",
	"citroen":       "Citroen",
	"citroën":       "Citroen",
	"suzuki":        "Suzuki",
	"ssangyong":     "SsangYong",
	"mahindra":      "Mahindra",
	"dfsk":          "DFSK",
	"opel":          "Opel",
	"skoda":         "Skoda",
	"seat":          "Seat",
	"isuzu":         "Isuzu",
	"jetour":        "Jetour",
	"foton":         "Foton",
	"dongfeng":      "Dongfeng",
	"baic":          "BAIC",
}

var brandRe *regexp.Regexp

func init() {
	names := make([]string, 0, len(brandAliases))
	for alias := range brandAliases {
		names = append(names, alias)
	}
	// Longest first so "land rover" wins over shorter overlapping names.
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	for i, n := range names {
		names[i] = regexp.QuoteMeta(n)
	}
	brandRe = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(` + strings.Join(names, "|") + `)(?:$|[^\p{L}\p{N}])`)
}

// Brands returns the canonical brand names the normalizer recognizes.
func Brands() []string {
	seen := make(map[string]bool)
	var out []string
	for _, b := range brandAliases {
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	sort.Strings(out)
	return out
}

// ExtractBrandModel finds the first known brand in title at a word boundary
// and takes the next one or two tokens as the model, skipping year tokens.
// An unrecognized brand yields ("", "", false).
func ExtractBrandModel(title string) (brand, model string, ok bool) {
	loc := brandRe.FindStringSubmatchIndex(title)
	if loc == nil {
		return "", "", false
	}
	brand = brandAliases[strings.ToLower(title[loc[2]:loc[3]])]

	var tokens []string
	for _, tok := range strings.Fields(title[loc[3]:]) {
		tok = strings.Trim(tok, ",;:|()[]")
		if tok == "" || tok == "-" || isYearToken(tok) {
			continue
		}
		if priceLikeRe.MatchString(tok) {
			break
		}
		tokens = append(tokens, tok)
		if len(tokens) == 2 {
			break
		}
	}
	return brand, strings.Join(tokens, " "), true
}

var priceLikeRe = regexp.MustCompile(`^(?:\$|US\$|USD|CLP|UF)`)

func isYearToken(tok string) bool {
	if len(tok) != 4 {
		return false
	}
	y, ok := parseYear(tok)
	return ok && y >= minExtractYear && y <= maxExtractYear
}
