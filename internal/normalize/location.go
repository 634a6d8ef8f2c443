package normalize

import "strings"

// Regions of the controlled location vocabulary.
const (
	RegionRemote       = "Remote"
	RegionAfrica       = "Africa"
	RegionAsia         = "Asia"
	RegionEurope       = "Europe"
	RegionLatinAmerica = "Latin America & Caribbean"
	RegionMiddleEast   = "Middle East"
	RegionNorthAmerica = "North America"
	RegionOceania      = "Oceania"
)

type place struct {
	country string
	region  string
}

// countries maps folded aliases (names, ISO codes, capital and major
// cities) to a canonical country and region.
var countries = map[string]place{}

func addCountry(country, region string, aliases ...string) {
	p := place{country: country, region: region}
	countries[fold(country)] = p
	for _, a := range aliases {
		countries[fold(a)] = p
	}
}

func init() {
	addCountry("United States", RegionNorthAmerica, "usa", "us", "u.s.", "u.s.a.", "united states of america", "america", "new york", "nyc", "washington dc", "washington, dc", "san francisco", "los angeles", "chicago", "boston", "seattle")
	addCountry("Canada", RegionNorthAmerica, "ca", "toronto", "montreal", "vancouver", "ottawa")
	addCountry("Mexico", RegionLatinAmerica, "mx", "mexico city", "ciudad de mexico")
	addCountry("Brazil", RegionLatinAmerica, "br", "brasil", "sao paulo", "rio de janeiro", "brasilia")
	addCountry("Colombia", RegionLatinAmerica, "co", "bogota")
	addCountry("Peru", RegionLatinAmerica, "pe", "lima")
	addCountry("Argentina", RegionLatinAmerica, "ar", "buenos aires")
	addCountry("Chile", RegionLatinAmerica, "cl", "santiago")
	addCountry("Haiti", RegionLatinAmerica, "ht", "port-au-prince")
	addCountry("Panama", RegionLatinAmerica, "pa", "panama city")
	addCountry("United Kingdom", RegionEurope, "uk", "gb", "great britain", "england", "scotland", "wales", "london", "manchester", "edinburgh")
	addCountry("Ireland", RegionEurope, "ie", "dublin")
	addCountry("France", RegionEurope, "fr", "paris", "lyon")
	addCountry("Germany", RegionEurope, "de", "deutschland", "berlin", "munich", "munchen", "bonn", "hamburg", "frankfurt")
	addCountry("Netherlands", RegionEurope, "nl", "the netherlands", "holland", "amsterdam", "the hague", "rotterdam")
	addCountry("Belgium", RegionEurope, "be", "brussels", "bruxelles")
	addCountry("Switzerland", RegionEurope, "ch", "geneva", "geneve", "zurich", "bern")
	addCountry("Italy", RegionEurope, "it", "italia", "rome", "roma", "milan")
	addCountry("Spain", RegionEurope, "es", "espana", "madrid", "barcelona")
	addCountry("Portugal", RegionEurope, "pt", "lisbon", "lisboa")
	addCountry("Denmark", RegionEurope, "dk", "copenhagen")
	addCountry("Sweden", RegionEurope, "se", "stockholm")
	addCountry("Norway", RegionEurope, "no", "oslo")
	addCountry("Austria", RegionEurope, "at", "vienna", "wien")
	addCountry("Poland", RegionEurope, "pl", "warsaw")
	addCountry("Ukraine", RegionEurope, "ua", "kyiv", "kiev")
	addCountry("Kenya", RegionAfrica, "ke", "nairobi", "mombasa")
	addCountry("Uganda", RegionAfrica, "ug", "kampala")
	addCountry("Ethiopia", RegionAfrica, "et", "addis ababa")
	addCountry("Nigeria", RegionAfrica, "ng", "lagos", "abuja")
	addCountry("South Africa", RegionAfrica, "za", "johannesburg", "cape town", "pretoria")
	addCountry("Senegal", RegionAfrica, "sn", "dakar")
	addCountry("Ghana", RegionAfrica, "gh", "accra")
	addCountry("Tanzania", RegionAfrica, "tz", "dar es salaam", "dodoma")
	addCountry("South Sudan", RegionAfrica, "ss", "juba")
	addCountry("Sudan", RegionAfrica, "sd", "khartoum")
	addCountry("Somalia", RegionAfrica, "so", "mogadishu")
	addCountry("Democratic Republic of the Congo", RegionAfrica, "drc", "dr congo", "kinshasa", "goma")
	addCountry("Egypt", RegionMiddleEast, "eg", "cairo")
	addCountry("Jordan", RegionMiddleEast, "jo", "amman")
	addCountry("Lebanon", RegionMiddleEast, "lb", "beirut")
	addCountry("Syria", RegionMiddleEast, "sy", "damascus")
	addCountry("Iraq", RegionMiddleEast, "iq", "baghdad", "erbil")
	addCountry("Yemen", RegionMiddleEast, "ye", "sanaa", "aden")
	addCountry("Turkey", RegionMiddleEast, "tr", "turkiye", "istanbul", "ankara", "gaziantep")
	addCountry("United Arab Emirates", RegionMiddleEast, "uae", "dubai", "abu dhabi")
	addCountry("Afghanistan", RegionAsia, "af", "kabul")
	addCountry("Pakistan", RegionAsia, "pk", "islamabad", "karachi", "lahore")
	addCountry("India", RegionAsia, "in", "new delhi", "delhi", "mumbai", "bangalore", "bengaluru")
	addCountry("Bangladesh", RegionAsia, "bd", "dhaka", "cox's bazar", "coxs bazar")
	addCountry("Nepal", RegionAsia, "np", "kathmandu")
	addCountry("Myanmar", RegionAsia, "mm", "yangon")
	addCountry("Thailand", RegionAsia, "th", "bangkok")
	addCountry("Philippines", RegionAsia, "ph", "manila")
	addCountry("Indonesia", RegionAsia, "id", "jakarta")
	addCountry("China", RegionAsia, "cn", "beijing", "shanghai")
	addCountry("Japan", RegionAsia, "jp", "tokyo")
	addCountry("Singapore", RegionAsia, "sg")
	addCountry("Australia", RegionOceania, "au", "sydney", "melbourne", "canberra")
	addCountry("New Zealand", RegionOceania, "nz", "wellington", "auckland")
	addCountry("Fiji", RegionOceania, "fj", "suva")
}

var remoteTerms = []string{"remote", "home-based", "home based", "work from home", "anywhere", "telecommute", "teletravail", "remoto"}

// regionTerms catch locations that only name a continent.
var regionTerms = map[string]string{
	"africa":        RegionAfrica,
	"east africa":   RegionAfrica,
	"west africa":   RegionAfrica,
	"asia":          RegionAsia,
	"south asia":    RegionAsia,
	"europe":        RegionEurope,
	"eu":            RegionEurope,
	"emea":          RegionEurope,
	"latin america": RegionLatinAmerica,
	"latam":         RegionLatinAmerica,
	"caribbean":     RegionLatinAmerica,
	"middle east":   RegionMiddleEast,
	"mena":          RegionMiddleEast,
	"north america": RegionNorthAmerica,
	"oceania":       RegionOceania,
	"pacific":       RegionOceania,
}

// Location maps a free-text location to a country and region. Unknown text
// yields empty strings; remote roles get RegionRemote with no country.
func Location(raw string) (country, region string) {
	folded := fold(raw)
	if folded == "" {
		return "", ""
	}
	for _, term := range remoteTerms {
		if strings.Contains(folded, term) {
			// "Remote - Kenya" still names a country.
			if c, r := matchPlace(folded); c != "" {
				return c, r
			}
			return "", RegionRemote
		}
	}
	return matchPlace(folded)
}

func matchPlace(folded string) (string, string) {
	if p, ok := countries[folded]; ok {
		return p.country, p.region
	}
	// Most specific first: the last comma part is usually the country.
	parts := strings.FieldsFunc(folded, func(r rune) bool { return r == ',' || r == '/' || r == '(' || r == ')' || r == ';' || r == '|' })
	for i := len(parts) - 1; i >= 0; i-- {
		part := strings.TrimSpace(strings.Trim(parts[i], " -"))
		if p, ok := countries[part]; ok && len(part) > 2 {
			return p.country, p.region
		}
		if len(part) == 2 && i > 0 {
			// Two-letter codes only count after a comma, e.g. "Nairobi, KE".
			if p, ok := countries[part]; ok {
				return p.country, p.region
			}
		}
	}
	// Fall back to multi-word alias search inside the text.
	for _, part := range parts {
		for _, w := range splitDash(part) {
			if p, ok := countries[w]; ok && len(w) > 3 {
				return p.country, p.region
			}
		}
	}
	for term, region := range regionTerms {
		if containsWord(folded, term) {
			return "", region
		}
	}
	return "", ""
}

func splitDash(s string) []string {
	var out []string
	for _, p := range strings.Split(s, " - ") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	for _, w := range strings.Fields(s) {
		out = append(out, strings.Trim(w, "-."))
	}
	return out
}

func containsWord(text, term string) bool {
	idx := strings.Index(text, term)
	for idx >= 0 {
		before := idx == 0 || !isWordByte(text[idx-1])
		end := idx + len(term)
		after := end == len(text) || !isWordByte(text[end])
		if before && after {
			return true
		}
		next := strings.Index(text[idx+1:], term)
		if next < 0 {
			break
		}
		idx += next + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
